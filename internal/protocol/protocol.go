// internal/protocol/protocol.go
package protocol

import (
	"context"
	"io"
	"time"

	"node-service/internal/model"
)

// Transport is an open byte stream to a node. Close must unblock a pending Read.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens transports for endpoints
type Opener interface {
	Open(ctx context.Context, endpoint Endpoint) (Transport, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context, endpoint Endpoint) (Transport, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context, endpoint Endpoint) (Transport, error) {
	return f(ctx, endpoint)
}

// ConnectionType represents how the node is reached
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeTCP    ConnectionType = "TCP"
)

// ProtocolStats provides transport-level statistics
type ProtocolStats struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	ErrorCount   int64     `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
}

// Endpoint is what an opener needs to reach one node
type Endpoint struct {
	Name     string
	BaudRate int
	Settings model.SerialSettings
}
