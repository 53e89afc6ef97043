// internal/loop/loop.go
package loop

import (
	"context"
	"errors"
	"sync/atomic"
)

// Kind selects the loop variant
type Kind int

const (
	// KindStandard is the generic cooperative loop
	KindStandard Kind = iota
	// KindIOCompletion integrates with OS completion ports, required for
	// serial events on Windows
	KindIOCompletion
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindIOCompletion:
		return "io-completion"
	default:
		return "unknown"
	}
}

var (
	ErrNoLoop      = errors.New("no loop bound to thread")
	ErrLoopRunning = errors.New("loop is already running")
	ErrLoopClosed  = errors.New("loop is closed")
)

// Task is a unit of work run to completion on a loop
type Task[T any] func(ctx context.Context) (T, error)

var loopIDs atomic.Uint64

// Loop is a cooperative scheduler. It runs one task at a time to completion
// on the goroutine that called it; the task fans out its own concurrent work
// and joins it before returning.
type Loop struct {
	id      uint64
	kind    Kind
	running atomic.Bool
	closed  atomic.Bool
}

// New creates an idle loop of the given kind
func New(kind Kind) *Loop {
	return &Loop{
		id:   loopIDs.Add(1),
		kind: kind,
	}
}

// ID returns a process-unique loop identifier
func (l *Loop) ID() uint64 { return l.id }

// Kind returns the loop variant
func (l *Loop) Kind() Kind { return l.kind }

// IsRunning reports whether a task is currently executing on the loop
func (l *Loop) IsRunning() bool { return l.running.Load() }

// IsClosed reports whether the loop has been closed
func (l *Loop) IsClosed() bool { return l.closed.Load() }

// Close releases the loop. Closing a running loop fails; closing twice is a no-op.
func (l *Loop) Close() error {
	if l.running.Load() {
		return ErrLoopRunning
	}
	l.closed.Store(true)
	return nil
}

// RunUntilComplete runs task on l in the calling goroutine
func RunUntilComplete[T any](ctx context.Context, l *Loop, task Task[T]) (T, error) {
	value, started, err := tryRun(ctx, l, task)
	if !started {
		var zero T
		return zero, err
	}
	return value, err
}

// tryRun reports started=false when the loop could not accept the task, so
// callers can tell a busy loop apart from a failing task.
func tryRun[T any](ctx context.Context, l *Loop, task Task[T]) (value T, started bool, err error) {
	if l.closed.Load() {
		return value, false, ErrLoopClosed
	}
	if !l.running.CompareAndSwap(false, true) {
		return value, false, ErrLoopRunning
	}
	defer l.running.Store(false)

	value, err = task(withLoop(ctx, l))
	return value, true, err
}

type loopKey struct{}

func withLoop(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, loopKey{}, l)
}

// FromContext returns the loop executing the current task, if any
func FromContext(ctx context.Context) (*Loop, bool) {
	l, ok := ctx.Value(loopKey{}).(*Loop)
	return l, ok
}
