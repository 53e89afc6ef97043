// internal/loop/strategy.go
package loop

import "runtime"

// Strategy picks the loop variant a platform needs
type Strategy struct {
	GOOS string
}

// PlatformStrategy returns the strategy for the running platform
func PlatformStrategy() Strategy {
	return Strategy{GOOS: runtime.GOOS}
}

// Required returns the kind new loops are created with
func (s Strategy) Required() Kind {
	if s.GOOS == "windows" {
		return KindIOCompletion
	}
	return KindStandard
}

// Accepts reports whether an existing loop can host identification work
func (s Strategy) Accepts(l *Loop) bool {
	if s.GOOS == "windows" {
		return l.Kind() == KindIOCompletion
	}
	return true
}

// Factory creates loops
type Factory interface {
	NewLoop(kind Kind) (*Loop, error)
}

// FactoryFunc adapts a function to the Factory interface
type FactoryFunc func(kind Kind) (*Loop, error)

// NewLoop calls f
func (f FactoryFunc) NewLoop(kind Kind) (*Loop, error) { return f(kind) }

// DefaultFactory creates plain loops
var DefaultFactory Factory = FactoryFunc(func(kind Kind) (*Loop, error) {
	return New(kind), nil
})
