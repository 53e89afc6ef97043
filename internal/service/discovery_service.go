// internal/service/discovery_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"node-service/internal/config"
	"node-service/internal/discovery"
	"node-service/internal/loop"
	"node-service/internal/model"
	"node-service/internal/repository"
	"node-service/internal/utils"
)

// DefaultBaudRate is used when neither the request nor configuration sets one
const DefaultBaudRate = 9600

var (
	ErrPortRequired    = errors.New("port is required")
	ErrInvalidBaudRate = errors.New("baud rate must be positive")
	ErrInvalidTimeout  = errors.New("timeout must not be negative")
)

// EventPublisher receives discovery progress events. Publish may be called
// from several goroutines at once and must not block.
type EventPublisher interface {
	Publish(event model.DiscoveryEvent)
}

// RunRecorder receives per-call instrumentation
type RunRecorder interface {
	ObserveRun(operation string, duration time.Duration)
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.DiscoveryEvent) {}

type nopRunRecorder struct{}

func (nopRunRecorder) ObserveRun(string, time.Duration) {}

// AvailableDevicesRequest parameterises a batch discovery
type AvailableDevicesRequest struct {
	// BaudRate defaults to the configured rate, then 9600
	BaudRate int
	// Ports nil probes every enumerable port; an empty non-nil slice probes none
	Ports []model.Port
	// Timeout bounds each probe; zero waits until ctx is done
	Timeout  time.Duration
	Settings model.SerialSettings
}

// ReadDeviceIDRequest parameterises a single-port identification
type ReadDeviceIDRequest struct {
	Port     string
	BaudRate int
	// Timeout bounds the probe; zero waits until ctx is done
	Timeout  time.Duration
	Settings model.SerialSettings
}

// DiscoveryService is the synchronous facade over port enumeration and
// identification. Every call runs to completion through the loop bridge,
// whatever scheduling context the caller is in.
type DiscoveryService struct {
	ports        discovery.PortLister
	prober       discovery.Prober
	orchestrator *discovery.Orchestrator
	bridge       *loop.Bridge
	repo         repository.DiscoveryRepository
	publisher    EventPublisher
	recorder     RunRecorder
	config       *config.DiscoveryConfig
	logger       *utils.ServiceLogger
}

// Option configures a DiscoveryService
type Option func(*DiscoveryService)

// WithEventPublisher attaches a progress event sink
func WithEventPublisher(p EventPublisher) Option {
	return func(s *DiscoveryService) { s.publisher = p }
}

// WithRunRecorder attaches instrumentation
func WithRunRecorder(r RunRecorder) Option {
	return func(s *DiscoveryService) { s.recorder = r }
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(
	ports discovery.PortLister,
	prober discovery.Prober,
	bridge *loop.Bridge,
	repo repository.DiscoveryRepository,
	cfg *config.DiscoveryConfig,
	logger *zap.Logger,
	opts ...Option,
) *DiscoveryService {
	s := &DiscoveryService{
		ports:        ports,
		prober:       prober,
		orchestrator: discovery.NewOrchestrator(prober, cfg.MaxConcurrency, logger),
		bridge:       bridge,
		repo:         repo,
		publisher:    nopPublisher{},
		recorder:     nopRunRecorder{},
		config:       cfg,
		logger:       utils.NewServiceLogger(logger, "discovery-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPorts returns the enumerable ports
func (s *DiscoveryService) ListPorts(ctx context.Context) ([]model.Port, error) {
	ports, err := s.ports.ListPorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	return ports, nil
}

// AvailableDevices probes ports concurrently and returns one row per
// distinct port in request order. Per-port failures are recorded in the rows;
// only enumeration and scheduler failures are returned as errors.
func (s *DiscoveryService) AvailableDevices(ctx context.Context, req AvailableDevicesRequest) (*model.DiscoveryResult, error) {
	baudRate, err := s.baudRate(req.BaudRate)
	if err != nil {
		return nil, err
	}
	if req.Timeout < 0 {
		return nil, ErrInvalidTimeout
	}

	run, err := loop.Run(ctx, s.bridge, func(ctx context.Context) (*model.DiscoveryResult, error) {
		ports := req.Ports
		if ports == nil {
			var err error
			if ports, err = s.ListPorts(ctx); err != nil {
				return nil, err
			}
		}

		run := &model.DiscoveryResult{
			ID:        uuid.New(),
			Operation: model.OperationAvailableDevices,
			BaudRate:  baudRate,
			Timeout:   req.Timeout,
			StartedAt: time.Now(),
		}
		s.publisher.Publish(model.NewDiscoveryEvent(model.EventDiscoveryStarted, run.ID, map[string]any{
			"ports":    len(ports),
			"baudrate": baudRate,
		}))

		requests := discovery.BuildRequests(ports, baudRate, req.Timeout, req.Settings)
		run.Devices = s.orchestrator.Probe(ctx, requests, func(index int, row model.DeviceRow) {
			s.publisher.Publish(model.NewDiscoveryEvent(model.EventProbeCompleted, run.ID, map[string]any{
				"index": index,
				"row":   row,
			}))
		})
		run.FinishedAt = time.Now()
		return run, nil
	})
	if err != nil {
		s.logger.Error("Device discovery failed", zap.Error(err))
		return nil, err
	}

	s.publisher.Publish(model.NewDiscoveryEvent(model.EventDiscoveryCompleted, run.ID, map[string]any{
		"ports":      len(run.Devices),
		"identified": len(run.Devices.Identified()),
		"duration":   run.Duration().String(),
	}))
	s.finishRun(ctx, run)
	return run, nil
}

// ReadDeviceID identifies the node on one port. Unlike AvailableDevices it
// is strict: a timeout returns an error matching discovery.ErrTimeout and a
// transport failure one matching discovery.ErrTransport.
func (s *DiscoveryService) ReadDeviceID(ctx context.Context, req ReadDeviceIDRequest) (*model.DeviceID, error) {
	if req.Port == "" {
		return nil, ErrPortRequired
	}
	baudRate, err := s.baudRate(req.BaudRate)
	if err != nil {
		return nil, err
	}
	if req.Timeout < 0 {
		return nil, ErrInvalidTimeout
	}

	probe := model.ProbeRequest{
		Port:     model.Port{Name: req.Port},
		BaudRate: baudRate,
		Timeout:  req.Timeout,
		Settings: req.Settings,
	}

	started := time.Now()
	outcome, err := loop.Run(ctx, s.bridge, func(ctx context.Context) (model.Outcome, error) {
		outcome := s.prober.Identify(ctx, probe)
		if outcome.Status != model.ProbeStatusIdentified {
			return outcome, outcome.Err
		}
		return outcome, nil
	})

	var schedErr *loop.SchedulerError
	if !errors.As(err, &schedErr) {
		s.finishRun(ctx, &model.DiscoveryResult{
			ID:         uuid.New(),
			Operation:  model.OperationReadDeviceID,
			BaudRate:   baudRate,
			Timeout:    req.Timeout,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Devices:    model.DeviceTable{model.NewDeviceRow(probe, outcome)},
		})
	}
	if err != nil {
		return nil, err
	}

	return &model.DeviceID{
		Port:          req.Port,
		BaudRate:      baudRate,
		Timeout:       req.Timeout,
		Settings:      req.Settings,
		DeviceName:    outcome.Identity.Name,
		DeviceVersion: outcome.Identity.Version,
	}, nil
}

// ListRuns returns recorded runs newest first
func (s *DiscoveryService) ListRuns(ctx context.Context, filter *repository.RunFilter) ([]*model.DiscoveryResult, error) {
	if filter == nil {
		filter = &repository.RunFilter{}
	}
	if filter.Limit <= 0 {
		filter.Limit = s.config.HistoryLimit
	}
	runs, err := s.repo.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovery runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one recorded run
func (s *DiscoveryService) GetRun(ctx context.Context, id uuid.UUID) (*model.DiscoveryResult, error) {
	return s.repo.GetRun(ctx, id)
}

// CleanupHistory deletes runs older than the configured retention
func (s *DiscoveryService) CleanupHistory(ctx context.Context) (int64, error) {
	if s.config.HistoryRetention <= 0 {
		return 0, nil
	}
	deleted, err := s.repo.DeleteRunsBefore(ctx, time.Now().Add(-s.config.HistoryRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up discovery history: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Discovery history cleaned up", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// RunRetention deletes expired history every cleanup interval until ctx is done
func (s *DiscoveryService) RunRetention(ctx context.Context) {
	if s.config.CleanupInterval <= 0 || s.config.HistoryRetention <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupHistory(ctx); err != nil {
				s.logger.Warn("Discovery history cleanup failed", zap.Error(err))
			}
		}
	}
}

// ActiveWorkers reports bridge worker threads still alive
func (s *DiscoveryService) ActiveWorkers() int64 {
	return s.bridge.ActiveWorkers()
}

func (s *DiscoveryService) baudRate(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, ErrInvalidBaudRate
	case requested > 0:
		return requested, nil
	case s.config.DefaultBaudRate > 0:
		return s.config.DefaultBaudRate, nil
	default:
		return DefaultBaudRate, nil
	}
}

// finishRun records a completed call. History failures are logged, never
// returned: the caller already has its result.
func (s *DiscoveryService) finishRun(ctx context.Context, run *model.DiscoveryResult) {
	s.recorder.ObserveRun(string(run.Operation), run.Duration())

	if err := s.repo.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("Failed to record discovery run",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("Discovery call completed",
		zap.String("operation", string(run.Operation)),
		zap.String("run_id", run.ID.String()),
		zap.Int("ports", len(run.Devices)),
		zap.Int("identified", len(run.Devices.Identified())),
		zap.Duration("duration", run.Duration()),
	)
}
