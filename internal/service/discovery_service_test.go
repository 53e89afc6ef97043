package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"node-service/internal/config"
	"node-service/internal/discovery"
	"node-service/internal/loop"
	"node-service/internal/model"
	"node-service/internal/repository"
)

// scriptedProber answers from a per-port script
type scriptedProber struct {
	mu       sync.Mutex
	outcomes map[string]model.Outcome
	delays   map[string]time.Duration
	requests []model.ProbeRequest
}

func newScriptedProber() *scriptedProber {
	return &scriptedProber{
		outcomes: make(map[string]model.Outcome),
		delays:   make(map[string]time.Duration),
	}
}

func (p *scriptedProber) Identify(ctx context.Context, req model.ProbeRequest) model.Outcome {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	outcome, ok := p.outcomes[req.Port.Name]
	delay := p.delays[req.Port.Name]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	if !ok {
		return model.TimedOut(&discovery.ProbeError{Port: req.Port.Name, Op: "read", Kind: discovery.ErrTimeout, Err: context.DeadlineExceeded})
	}
	return outcome
}

type capturedEvents struct {
	mu     sync.Mutex
	events []model.DiscoveryEvent
}

func (c *capturedEvents) Publish(event model.DiscoveryEvent) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *capturedEvents) types() []model.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []model.EventType
	for _, e := range c.events {
		types = append(types, e.EventType)
	}
	return types
}

type failingLister struct{}

func (failingLister) ListPorts(context.Context) ([]model.Port, error) {
	return nil, errors.New("enumeration unavailable")
}

func testConfig() *config.DiscoveryConfig {
	return &config.DiscoveryConfig{HistoryLimit: 10, HistoryRetention: 24 * time.Hour}
}

func newTestService(t *testing.T, ports discovery.PortLister, prober discovery.Prober, opts ...Option) (*DiscoveryService, repository.DiscoveryRepository, *loop.Bridge) {
	t.Helper()
	bridge := loop.NewBridge(zap.NewNop(), loop.WithStrategy(loop.Strategy{GOOS: "linux"}))
	repo := repository.NewMemoryRepository(zap.NewNop())
	return NewDiscoveryService(ports, prober, bridge, repo, testConfig(), zap.NewNop(), opts...), repo, bridge
}

func TestAvailableDevicesEnumeratesByDefault(t *testing.T) {
	prober := newScriptedProber()
	prober.outcomes["/dev/ttyACM0"] = model.Identified(model.Identity{Name: "dropbot", Version: "1.4"})
	ports := discovery.StaticPorts{{Name: "/dev/ttyACM0"}, {Name: "/dev/ttyACM1"}}
	events := &capturedEvents{}

	svc, repo, _ := newTestService(t, ports, prober, WithEventPublisher(events))
	result, err := svc.AvailableDevices(context.Background(), AvailableDevicesRequest{Timeout: time.Second})
	require.NoError(t, err)

	require.Len(t, result.Devices, 2)
	assert.Equal(t, DefaultBaudRate, result.BaudRate)
	assert.Equal(t, "dropbot", result.Devices[0].DeviceName)
	assert.Equal(t, "1.4", result.Devices[0].DeviceVersion)
	assert.Equal(t, DefaultBaudRate, result.Devices[0].BaudRate)
	assert.Empty(t, result.Devices[1].DeviceName)
	assert.Equal(t, model.ProbeStatusTimedOut, result.Devices[1].Status)
	assert.Equal(t, model.OperationAvailableDevices, result.Operation)

	stored, err := repo.GetRun(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Devices, 2)

	types := events.types()
	require.Len(t, types, 4)
	assert.Equal(t, model.EventDiscoveryStarted, types[0])
	assert.Equal(t, model.EventProbeCompleted, types[1])
	assert.Equal(t, model.EventProbeCompleted, types[2])
	assert.Equal(t, model.EventDiscoveryCompleted, types[3])
}

func TestAvailableDevicesExplicitPorts(t *testing.T) {
	prober := newScriptedProber()
	prober.outcomes["B"] = model.Identified(model.Identity{Name: "node-b", Version: "2"})

	svc, _, _ := newTestService(t, failingLister{}, prober)
	result, err := svc.AvailableDevices(context.Background(), AvailableDevicesRequest{
		BaudRate: 115200,
		Ports:    []model.Port{{Name: "B"}, {Name: "A"}, {Name: "B"}},
		Settings: model.SerialSettings{StopBits: 2},
	})
	require.NoError(t, err)

	require.Len(t, result.Devices, 2)
	assert.Equal(t, "B", result.Devices[0].Name)
	assert.Equal(t, "A", result.Devices[1].Name)
	for _, req := range prober.requests {
		assert.Equal(t, 115200, req.BaudRate)
		assert.Equal(t, 2, req.Settings.StopBits)
	}

	empty, err := svc.AvailableDevices(context.Background(), AvailableDevicesRequest{Ports: []model.Port{}})
	require.NoError(t, err)
	assert.Empty(t, empty.Devices)
}

func TestAvailableDevicesEnumerationFailure(t *testing.T) {
	svc, _, _ := newTestService(t, failingLister{}, newScriptedProber())
	_, err := svc.AvailableDevices(context.Background(), AvailableDevicesRequest{})
	assert.ErrorContains(t, err, "enumeration unavailable")
}

func TestAvailableDevicesRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t, discovery.StaticPorts{}, newScriptedProber())

	_, err := svc.AvailableDevices(context.Background(), AvailableDevicesRequest{BaudRate: -1})
	assert.ErrorIs(t, err, ErrInvalidBaudRate)

	_, err = svc.AvailableDevices(context.Background(), AvailableDevicesRequest{Timeout: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestSequentialCallsLeaveNoWorkers(t *testing.T) {
	prober := newScriptedProber()
	prober.outcomes["A"] = model.Identified(model.Identity{Name: "a"})
	svc, _, bridge := newTestService(t, discovery.StaticPorts{{Name: "A"}}, prober)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 2; i++ {
		_, err := svc.AvailableDevices(context.Background(), AvailableDevicesRequest{})
		require.NoError(t, err)
		assert.Zero(t, bridge.ActiveWorkers())
	}

	// from inside already-running work the call is hosted by a worker
	_, err := loop.Run(context.Background(), bridge, func(ctx context.Context) (struct{}, error) {
		_, err := svc.AvailableDevices(ctx, AvailableDevicesRequest{})
		return struct{}{}, err
	})
	require.NoError(t, err)
	assert.Zero(t, svc.ActiveWorkers())

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, time.Second, 10*time.Millisecond, "goroutines did not return to baseline %d", baseline)
}

func TestReadDeviceIDSuccess(t *testing.T) {
	prober := newScriptedProber()
	prober.outcomes["COM3"] = model.Identified(model.Identity{Name: "peristaltic", Version: "0.9"})
	svc, repo, _ := newTestService(t, discovery.StaticPorts{}, prober)

	id, err := svc.ReadDeviceID(context.Background(), ReadDeviceIDRequest{
		Port:     "COM3",
		Timeout:  500 * time.Millisecond,
		Settings: model.SerialSettings{Parity: "odd"},
	})
	require.NoError(t, err)
	assert.Equal(t, &model.DeviceID{
		Port:          "COM3",
		BaudRate:      DefaultBaudRate,
		Timeout:       500 * time.Millisecond,
		Settings:      model.SerialSettings{Parity: "odd"},
		DeviceName:    "peristaltic",
		DeviceVersion: "0.9",
	}, id)

	runs, err := repo.ListRuns(context.Background(), &repository.RunFilter{Operation: model.OperationReadDeviceID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "peristaltic", runs[0].Devices[0].DeviceName)
}

func TestReadDeviceIDTimeoutIsError(t *testing.T) {
	svc, _, _ := newTestService(t, discovery.StaticPorts{}, newScriptedProber())

	id, err := svc.ReadDeviceID(context.Background(), ReadDeviceIDRequest{Port: "COM9", Timeout: 200 * time.Millisecond})
	assert.Nil(t, id)
	assert.ErrorIs(t, err, discovery.ErrTimeout)
	assert.True(t, discovery.IsTimeout(err))
}

func TestReadDeviceIDPreservesErrorThroughWorker(t *testing.T) {
	cause := errors.New("bad checksum")
	prober := newScriptedProber()
	prober.outcomes["COM2"] = model.TransportFailure(&discovery.ProbeError{
		Port: "COM2", Op: "decode", Kind: discovery.ErrMalformedReply, Err: cause,
	})
	svc, _, bridge := newTestService(t, discovery.StaticPorts{}, prober)

	_, direct := svc.ReadDeviceID(context.Background(), ReadDeviceIDRequest{Port: "COM2"})
	_, viaWorker := loop.Run(context.Background(), bridge, func(ctx context.Context) (*model.DeviceID, error) {
		return svc.ReadDeviceID(ctx, ReadDeviceIDRequest{Port: "COM2"})
	})

	for _, err := range []error{direct, viaWorker} {
		assert.ErrorIs(t, err, discovery.ErrMalformedReply)
		assert.ErrorIs(t, err, discovery.ErrTransport)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "bad checksum")
	}
}

func TestReadDeviceIDRequiresPort(t *testing.T) {
	svc, _, _ := newTestService(t, discovery.StaticPorts{}, newScriptedProber())
	_, err := svc.ReadDeviceID(context.Background(), ReadDeviceIDRequest{})
	assert.ErrorIs(t, err, ErrPortRequired)
}

func TestCleanupHistory(t *testing.T) {
	svc, repo, _ := newTestService(t, discovery.StaticPorts{}, newScriptedProber())
	ctx := context.Background()

	old := &model.DiscoveryResult{ID: [16]byte{1}, StartedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, repo.SaveRun(ctx, old))
	_, err := svc.AvailableDevices(ctx, AvailableDevicesRequest{Ports: []model.Port{}})
	require.NoError(t, err)

	deleted, err := svc.CleanupHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	runs, err := svc.ListRuns(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
