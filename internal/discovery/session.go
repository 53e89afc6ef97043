// internal/discovery/session.go
package discovery

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"node-service/internal/model"
	"node-service/internal/protocol"
	"node-service/internal/protocol/packet"
	"node-service/internal/utils"
)

const (
	defaultReadInterval = 50 * time.Millisecond
	readBufferSize      = 256
)

// ProbeRecorder receives per-probe instrumentation
type ProbeRecorder interface {
	ObserveProbe(status model.ProbeStatus, duration time.Duration)
}

type nopProbeRecorder struct{}

func (nopProbeRecorder) ObserveProbe(model.ProbeStatus, time.Duration) {}

// Prober runs one identification attempt
type Prober interface {
	Identify(ctx context.Context, req model.ProbeRequest) model.Outcome
}

// Session performs the identification handshake against single ports
type Session struct {
	opener       protocol.Opener
	recorder     ProbeRecorder
	readInterval time.Duration
	logger       *zap.Logger
	packetIDs    atomic.Uint32
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithProbeRecorder attaches instrumentation
func WithProbeRecorder(r ProbeRecorder) SessionOption {
	return func(s *Session) { s.recorder = r }
}

// WithReadInterval bounds each blocking read on the transport
func WithReadInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.readInterval = d
		}
	}
}

// NewSession creates a session that opens transports with opener
func NewSession(opener protocol.Opener, logger *zap.Logger, opts ...SessionOption) *Session {
	s := &Session{
		opener:       opener,
		recorder:     nopProbeRecorder{},
		readInterval: defaultReadInterval,
		logger:       logger.With(zap.String("component", "identification-session")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identify reads the node's self-reported identity. A zero timeout waits
// until ctx is done. The transport is closed exactly once on every path,
// including cancellation of ctx while a read is blocked.
func (s *Session) Identify(ctx context.Context, req model.ProbeRequest) model.Outcome {
	start := time.Now()
	outcome := s.identify(ctx, req)
	outcome.Duration = time.Since(start)

	s.recorder.ObserveProbe(outcome.Status, outcome.Duration)
	utils.NewProbeLogger(s.logger, req.Port.Name, req.BaudRate).LogOutcome(outcome)
	return outcome
}

func (s *Session) identify(ctx context.Context, req model.ProbeRequest) model.Outcome {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	port := req.Port.Name

	transport, err := s.opener.Open(ctx, protocol.Endpoint{
		Name:     port,
		BaudRate: req.BaudRate,
		Settings: req.Settings,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcomeFor(contextError(port, "open", ctxErr))
		}
		return model.TransportFailure(transportError(port, "open", err))
	}

	var closeOnce sync.Once
	closeTransport := func() {
		closeOnce.Do(func() {
			if err := transport.Close(); err != nil {
				s.logger.Debug("Failed to close transport", zap.String("port", port), zap.Error(err))
			}
		})
	}
	stop := context.AfterFunc(ctx, closeTransport)
	defer func() {
		stop()
		closeTransport()
	}()

	if err := transport.SetReadTimeout(s.readInterval); err != nil {
		return model.TransportFailure(transportError(port, "configure", err))
	}

	if _, err := transport.Write(packet.IDRequest(s.nextPacketID())); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcomeFor(contextError(port, "write", ctxErr))
		}
		return model.TransportFailure(transportError(port, "write", err))
	}

	return s.awaitIdentity(ctx, port, transport)
}

// awaitIdentity reads until an ID response decodes. Other packet types and
// frames with an invalid header are skipped. A checksum or payload error on
// a well-formed frame ends the probe as malformed.
func (s *Session) awaitIdentity(ctx context.Context, port string, transport protocol.Transport) model.Outcome {
	decoder := packet.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return outcomeFor(contextError(port, "read", err))
		}

		n, readErr := transport.Read(buf)
		if n > 0 {
			_, _ = decoder.Write(buf[:n])
			for {
				p, err := decoder.Next()
				if errors.Is(err, packet.ErrBadHeader) {
					s.logger.Debug("Resynchronising after invalid frame header",
						zap.String("port", port),
						zap.Error(err),
					)
					continue
				}
				if err != nil {
					return model.TransportFailure(malformedError(port, err))
				}
				if p == nil {
					break
				}
				if p.Type != packet.TypeIDResponse {
					s.logger.Debug("Ignoring packet while awaiting identity",
						zap.String("port", port),
						zap.String("type", string(rune(p.Type))),
					)
					continue
				}

				name, version, err := packet.ParseIdentity(p)
				if err != nil {
					return model.TransportFailure(malformedError(port, err))
				}
				return model.Identified(model.Identity{Name: name, Version: version})
			}
		}

		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcomeFor(contextError(port, "read", ctxErr))
			}
			if errors.Is(readErr, io.EOF) {
				return model.TransportFailure(transportError(port, "read", io.ErrUnexpectedEOF))
			}
			return model.TransportFailure(transportError(port, "read", readErr))
		}
	}
}

func (s *Session) nextPacketID() uint16 {
	return uint16(s.packetIDs.Add(1))
}

func outcomeFor(err *ProbeError) model.Outcome {
	if errors.Is(err.Kind, ErrTimeout) {
		return model.TimedOut(err)
	}
	return model.TransportFailure(err)
}
