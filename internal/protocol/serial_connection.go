// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"node-service/internal/model"
)

// SerialOpener opens serial ports with go.bug.st/serial
type SerialOpener struct {
	defaults    model.SerialSettings
	readTimeout time.Duration
	logger      *zap.Logger
}

// NewSerialOpener creates a serial opener. readTimeout bounds each Read call
// so a session can re-check its deadline while the line is silent.
func NewSerialOpener(defaults model.SerialSettings, readTimeout time.Duration, logger *zap.Logger) *SerialOpener {
	return &SerialOpener{
		defaults:    defaults,
		readTimeout: readTimeout,
		logger:      logger.With(zap.String("protocol", "serial")),
	}
}

// Open opens the endpoint as a serial port
func (o *SerialOpener) Open(ctx context.Context, endpoint Endpoint) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := serialConfigFor(endpoint, o.defaults, o.readTimeout)
	conn := &SerialConnection{
		config: cfg,
		logger: o.logger.With(zap.String("port", cfg.Port)),
	}
	if err := conn.open(); err != nil {
		return nil, err
	}
	return conn, nil
}

// SerialConnection is an open serial port
type SerialConnection struct {
	config *SerialConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.Mutex
	closed bool
	stats  ProtocolStats
}

// open opens the serial port
func (sc *SerialConnection) open() error {
	mode, err := modeFor(sc.config)
	if err != nil {
		return err
	}

	sc.logger.Debug("Opening serial port", zap.Int("baud_rate", sc.config.BaudRate))

	port, err := serial.Open(sc.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", sc.config.Port, describeOpenError(err))
	}

	if sc.config.ReadTimeout > 0 {
		if err := port.SetReadTimeout(sc.config.ReadTimeout); err != nil {
			port.Close()
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	sc.port = port
	sc.stats.LastActivity = time.Now()
	return nil
}

// Read reads from the serial port; (0, nil) means the read timeout elapsed
func (sc *SerialConnection) Read(p []byte) (int, error) {
	n, err := sc.port.Read(p)
	if err != nil {
		sc.countError()
		return n, fmt.Errorf("failed to read from serial port: %w", err)
	}
	sc.mutex.Lock()
	sc.stats.BytesRead += int64(n)
	if n > 0 {
		sc.stats.LastActivity = time.Now()
	}
	sc.mutex.Unlock()
	return n, nil
}

// Write writes the whole buffer to the serial port
func (sc *SerialConnection) Write(p []byte) (int, error) {
	n, err := sc.port.Write(p)
	if err != nil {
		sc.countError()
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(p) {
		return n, fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(p))
	}
	sc.mutex.Lock()
	sc.stats.BytesWritten += int64(n)
	sc.stats.LastActivity = time.Now()
	sc.mutex.Unlock()
	return n, nil
}

// SetReadTimeout changes the per-read timeout
func (sc *SerialConnection) SetReadTimeout(timeout time.Duration) error {
	return sc.port.SetReadTimeout(timeout)
}

// Close closes the serial port; repeated calls are no-ops
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.closed {
		return nil
	}
	sc.closed = true

	if err := sc.port.Close(); err != nil {
		sc.logger.Warn("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Debug("Serial port closed",
		zap.Int64("bytes_written", sc.stats.BytesWritten),
		zap.Int64("bytes_read", sc.stats.BytesRead),
	)
	return nil
}

// Stats returns a snapshot of transport statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.stats
}

func (sc *SerialConnection) countError() {
	sc.mutex.Lock()
	sc.stats.ErrorCount++
	sc.mutex.Unlock()
}

// modeFor converts the configuration into a serial mode
func modeFor(cfg *SerialConfig) (*serial.Mode, error) {
	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("invalid baud rate: %d", cfg.BaudRate)
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits: %d", cfg.StopBits)
	}

	switch cfg.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity: %s", cfg.Parity)
	}

	return mode, nil
}

// describeOpenError keeps the library error but names the common causes
func describeOpenError(err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}
	switch portErr.Code() {
	case serial.PortBusy:
		return fmt.Errorf("port busy: %w", err)
	case serial.PortNotFound:
		return fmt.Errorf("port not found: %w", err)
	case serial.PermissionDenied:
		return fmt.Errorf("permission denied: %w", err)
	default:
		return err
	}
}
