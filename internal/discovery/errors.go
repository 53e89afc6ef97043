// internal/discovery/errors.go
package discovery

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the node did not answer within the probe timeout
	ErrTimeout = errors.New("identification timed out")
	// ErrTransport covers open, write, read and parse failures on a port
	ErrTransport = errors.New("transport error")
	// ErrMalformedReply is a transport error for replies that fail to decode
	ErrMalformedReply = fmt.Errorf("malformed identification reply: %w", ErrTransport)
)

// ProbeError describes a failed probe. It matches both its kind
// (ErrTimeout, ErrTransport or ErrMalformedReply) and the underlying cause.
type ProbeError struct {
	Port string
	Op   string
	Kind error
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Port, e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsTimeout reports whether err is a probe timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func transportError(port, op string, err error) *ProbeError {
	return &ProbeError{Port: port, Op: op, Kind: ErrTransport, Err: err}
}

func malformedError(port string, err error) *ProbeError {
	return &ProbeError{Port: port, Op: "decode", Kind: ErrMalformedReply, Err: err}
}

// contextError classifies a cancelled probe. Only an expired deadline is a
// timeout; any other cancellation aborted the transport.
func contextError(port, op string, err error) *ProbeError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProbeError{Port: port, Op: op, Kind: ErrTimeout, Err: err}
	}
	return transportError(port, op, err)
}
