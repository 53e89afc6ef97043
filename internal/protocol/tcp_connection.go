// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TCPOpener dials serial-over-TCP bridges
type TCPOpener struct {
	config TCPConfig
	logger *zap.Logger
}

// NewTCPOpener creates a TCP opener
func NewTCPOpener(config TCPConfig, logger *zap.Logger) *TCPOpener {
	return &TCPOpener{
		config: config,
		logger: logger.With(zap.String("protocol", "tcp")),
	}
}

// Open dials the endpoint address; the baud rate is configured on the bridge side
func (o *TCPOpener) Open(ctx context.Context, endpoint Endpoint) (Transport, error) {
	address := endpoint.Name
	if host, ok := TCPAddress(endpoint.Name); ok {
		address = host
	}

	dialer := &net.Dialer{
		Timeout: o.config.ConnectTimeout,
	}
	if o.config.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	o.logger.Debug("TCP bridge connected", zap.String("address", address))
	return &TCPConnection{conn: conn, logger: o.logger.With(zap.String("address", address))}, nil
}

// TCPConnection is an open serial-over-TCP stream
type TCPConnection struct {
	conn        net.Conn
	logger      *zap.Logger
	mutex       sync.Mutex
	readTimeout time.Duration
	closed      bool
}

// Read reads from the connection; like a serial port, an elapsed read
// timeout yields (0, nil)
func (tc *TCPConnection) Read(p []byte) (int, error) {
	tc.mutex.Lock()
	timeout := tc.readTimeout
	tc.mutex.Unlock()

	if timeout > 0 {
		if err := tc.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	n, err := tc.conn.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}
		return n, fmt.Errorf("failed to read from tcp bridge: %w", err)
	}
	return n, nil
}

// Write writes to the connection
func (tc *TCPConnection) Write(p []byte) (int, error) {
	n, err := tc.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to tcp bridge: %w", err)
	}
	return n, nil
}

// SetReadTimeout sets the per-read timeout
func (tc *TCPConnection) SetReadTimeout(timeout time.Duration) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()
	tc.readTimeout = timeout
	return nil
}

// Close closes the connection; repeated calls are no-ops
func (tc *TCPConnection) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.closed {
		return nil
	}
	tc.closed = true
	return tc.conn.Close()
}
