// internal/protocol/factory.go
package protocol

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const tcpScheme = "tcp://"

// TCPAddress returns the host:port of a tcp:// endpoint name
func TCPAddress(name string) (string, bool) {
	if !strings.HasPrefix(name, tcpScheme) {
		return "", false
	}
	return strings.TrimPrefix(name, tcpScheme), true
}

// ConnectionTypeOf reports how an endpoint name is reached
func ConnectionTypeOf(name string) ConnectionType {
	if _, ok := TCPAddress(name); ok {
		return ConnectionTypeTCP
	}
	return ConnectionTypeSerial
}

// Router dispatches endpoints to the opener for their connection type
type Router struct {
	openers map[ConnectionType]Opener
	logger  *zap.Logger
}

// NewRouter creates a router over the serial and TCP openers
func NewRouter(serial Opener, tcp Opener, logger *zap.Logger) *Router {
	return &Router{
		openers: map[ConnectionType]Opener{
			ConnectionTypeSerial: serial,
			ConnectionTypeTCP:    tcp,
		},
		logger: logger,
	}
}

// Open opens the endpoint with the matching opener
func (r *Router) Open(ctx context.Context, endpoint Endpoint) (Transport, error) {
	connectionType := ConnectionTypeOf(endpoint.Name)
	opener, ok := r.openers[connectionType]
	if !ok || opener == nil {
		return nil, &UnsupportedError{ConnectionType: connectionType}
	}
	return opener.Open(ctx, endpoint)
}

// UnsupportedError is returned for endpoints no opener handles
type UnsupportedError struct {
	ConnectionType ConnectionType
}

func (e *UnsupportedError) Error() string {
	return "unsupported protocol type: " + string(e.ConnectionType)
}
