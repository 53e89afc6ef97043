package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"node-service/internal/model"
	"node-service/internal/protocol"
	"node-service/internal/protocol/packet"
)

var errFakeClosed = errors.New("fake transport closed")

// fakeTransport replies to the first write after delay. A nil reply never answers.
type fakeTransport struct {
	reply       []byte
	delay       time.Duration
	readTimeout time.Duration

	mu      sync.Mutex
	written []byte

	replies    chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeTransport(reply []byte, delay time.Duration) *fakeTransport {
	return &fakeTransport{
		reply:   reply,
		delay:   delay,
		replies: make(chan []byte, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	var timeout <-chan time.Time
	if f.readTimeout > 0 {
		timeout = time.After(f.readTimeout)
	}
	select {
	case <-f.closed:
		return 0, errFakeClosed
	case data := <-f.replies:
		return copy(p, data), nil
	case <-timeout:
		return 0, nil
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.written = append(f.written, p...)
	f.mu.Unlock()

	if f.reply != nil {
		go func() {
			select {
			case <-time.After(f.delay):
				f.replies <- f.reply
			case <-f.closed:
			}
		}()
	}
	return len(p), nil
}

func (f *fakeTransport) SetReadTimeout(d time.Duration) error {
	if f.readTimeout == 0 {
		f.readTimeout = d
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) writtenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written...)
}

type fakeOpener struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	failures   map[string]error
	endpoints  []protocol.Endpoint
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		transports: make(map[string]*fakeTransport),
		failures:   make(map[string]error),
	}
}

func (o *fakeOpener) Open(_ context.Context, endpoint protocol.Endpoint) (protocol.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endpoints = append(o.endpoints, endpoint)
	if err, ok := o.failures[endpoint.Name]; ok {
		return nil, err
	}
	t, ok := o.transports[endpoint.Name]
	if !ok {
		return nil, errors.New("no such port")
	}
	return t, nil
}

func identityFrame(t *testing.T, name, version string) []byte {
	t.Helper()
	frame, err := packet.IDResponse(7, name, version)
	require.NoError(t, err)
	return frame
}

func request(port string, timeout time.Duration) model.ProbeRequest {
	return model.ProbeRequest{Port: model.Port{Name: port}, BaudRate: 9600, Timeout: timeout}
}

func newTestSession(opener protocol.Opener) *Session {
	return NewSession(opener, zap.NewNop(), WithReadInterval(10*time.Millisecond))
}

func TestIdentifySuccess(t *testing.T) {
	opener := newFakeOpener()
	transport := newFakeTransport(identityFrame(t, "rpc-node", "1.2.0"), 10*time.Millisecond)
	opener.transports["/dev/ttyACM0"] = transport

	req := request("/dev/ttyACM0", time.Second)
	req.Settings = model.SerialSettings{Parity: "even"}
	outcome := newTestSession(opener).Identify(context.Background(), req)

	require.Equal(t, model.ProbeStatusIdentified, outcome.Status, outcome.Reason())
	assert.Equal(t, &model.Identity{Name: "rpc-node", Version: "1.2.0"}, outcome.Identity)
	assert.NoError(t, outcome.Err)
	assert.Positive(t, outcome.Duration)
	assert.Equal(t, int32(1), transport.closeCalls.Load())

	decoder := packet.NewDecoder()
	_, _ = decoder.Write(transport.writtenBytes())
	sent, err := decoder.Next()
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, packet.TypeIDRequest, sent.Type)

	require.Len(t, opener.endpoints, 1)
	assert.Equal(t, 9600, opener.endpoints[0].BaudRate)
	assert.Equal(t, "even", opener.endpoints[0].Settings.Parity)
}

func TestIdentifySilentPortTimesOut(t *testing.T) {
	opener := newFakeOpener()
	transport := newFakeTransport(nil, 0)
	opener.transports["/dev/ttyUSB1"] = transport

	start := time.Now()
	outcome := newTestSession(opener).Identify(context.Background(), request("/dev/ttyUSB1", 200*time.Millisecond))
	elapsed := time.Since(start)

	assert.Equal(t, model.ProbeStatusTimedOut, outcome.Status)
	assert.True(t, IsTimeout(outcome.Err))
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Nil(t, outcome.Identity)
	assert.Equal(t, int32(1), transport.closeCalls.Load())
}

func TestIdentifyMalformedReply(t *testing.T) {
	frame := identityFrame(t, "rpc-node", "1.0")
	frame[len(frame)-1] ^= 0xFF

	opener := newFakeOpener()
	transport := newFakeTransport(frame, 0)
	opener.transports["COM3"] = transport

	outcome := newTestSession(opener).Identify(context.Background(), request("COM3", time.Second))

	assert.Equal(t, model.ProbeStatusTransportError, outcome.Status)
	assert.ErrorIs(t, outcome.Err, ErrMalformedReply)
	assert.ErrorIs(t, outcome.Err, ErrTransport)
	assert.ErrorIs(t, outcome.Err, packet.ErrChecksum)
	assert.False(t, IsTimeout(outcome.Err))
	assert.Equal(t, int32(1), transport.closeCalls.Load())
}

func TestIdentifyMissingNameIsMalformed(t *testing.T) {
	frame, err := (&packet.Packet{ID: 1, Type: packet.TypeIDResponse, Payload: []byte(`{"version":"1"}`)}).Encode()
	require.NoError(t, err)

	opener := newFakeOpener()
	opener.transports["COM4"] = newFakeTransport(frame, 0)

	outcome := newTestSession(opener).Identify(context.Background(), request("COM4", time.Second))
	assert.ErrorIs(t, outcome.Err, packet.ErrMalformedIdentity)
	assert.Equal(t, model.ProbeStatusTransportError, outcome.Status)
}

func TestIdentifySkipsOtherPackets(t *testing.T) {
	data, err := (&packet.Packet{ID: 3, Type: packet.TypeData, Payload: []byte("boot")}).Encode()
	require.NoError(t, err)
	reply := append([]byte("garbage\r\n"), data...)
	reply = append(reply, identityFrame(t, "pump", "2.0")...)

	opener := newFakeOpener()
	opener.transports["COM5"] = newFakeTransport(reply, 0)

	outcome := newTestSession(opener).Identify(context.Background(), request("COM5", time.Second))
	require.Equal(t, model.ProbeStatusIdentified, outcome.Status, outcome.Reason())
	assert.Equal(t, "pump", outcome.Identity.Name)
}

func TestIdentifyNoiseEndingInPipes(t *testing.T) {
	for _, noise := range []string{"boot|", "ok||", "plain noise "} {
		t.Run(noise, func(t *testing.T) {
			reply := append([]byte(noise), identityFrame(t, "node", "1.0")...)

			opener := newFakeOpener()
			opener.transports["COM6"] = newFakeTransport(reply, 0)

			outcome := newTestSession(opener).Identify(context.Background(), request("COM6", time.Second))
			require.Equal(t, model.ProbeStatusIdentified, outcome.Status, outcome.Reason())
			assert.Equal(t, &model.Identity{Name: "node", Version: "1.0"}, outcome.Identity)
		})
	}
}

func TestIdentifySkipsInvalidHeader(t *testing.T) {
	bogus, err := (&packet.Packet{ID: 1, Type: packet.TypeData}).Encode()
	require.NoError(t, err)
	bogus[5] = 'z'
	reply := append(bogus, identityFrame(t, "pump", "3.1")...)

	opener := newFakeOpener()
	opener.transports["COM7"] = newFakeTransport(reply, 0)

	outcome := newTestSession(opener).Identify(context.Background(), request("COM7", time.Second))
	require.Equal(t, model.ProbeStatusIdentified, outcome.Status, outcome.Reason())
	assert.Equal(t, "pump", outcome.Identity.Name)
}

func TestIdentifyOpenFailure(t *testing.T) {
	cause := errors.New("port busy")
	opener := newFakeOpener()
	opener.failures["/dev/ttyS0"] = cause

	outcome := newTestSession(opener).Identify(context.Background(), request("/dev/ttyS0", time.Second))

	assert.Equal(t, model.ProbeStatusTransportError, outcome.Status)
	assert.ErrorIs(t, outcome.Err, ErrTransport)
	assert.ErrorIs(t, outcome.Err, cause)

	var probeErr *ProbeError
	require.ErrorAs(t, outcome.Err, &probeErr)
	assert.Equal(t, "open", probeErr.Op)
	assert.Equal(t, "/dev/ttyS0", probeErr.Port)
}

func TestIdentifyCancelUnblocksRead(t *testing.T) {
	opener := newFakeOpener()
	transport := newFakeTransport(nil, 0)
	transport.readTimeout = time.Hour
	opener.transports["COM6"] = transport

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	outcome := newTestSession(opener).Identify(ctx, request("COM6", 0))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.ProbeStatusTransportError, outcome.Status)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
	assert.Equal(t, int32(1), transport.closeCalls.Load())
}

type recordingProbes struct {
	mu       sync.Mutex
	statuses []model.ProbeStatus
}

func (r *recordingProbes) ObserveProbe(status model.ProbeStatus, _ time.Duration) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

func TestOrchestratorSlowPortDoesNotDelayOthers(t *testing.T) {
	opener := newFakeOpener()
	opener.transports["A"] = newFakeTransport(identityFrame(t, "node-a", "1.0"), 100*time.Millisecond)
	opener.transports["B"] = newFakeTransport(nil, 0)
	opener.transports["C"] = newFakeTransport(identityFrame(t, "node-c", "3.1"), 300*time.Millisecond)

	recorder := &recordingProbes{}
	session := NewSession(opener, zap.NewNop(), WithReadInterval(10*time.Millisecond), WithProbeRecorder(recorder))
	orchestrator := NewOrchestrator(session, 0, zap.NewNop())

	ports := []model.Port{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	var observed atomic.Int32

	start := time.Now()
	rows := orchestrator.Probe(context.Background(),
		BuildRequests(ports, 115200, time.Second, model.SerialSettings{}),
		func(int, model.DeviceRow) { observed.Add(1) })
	elapsed := time.Since(start)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{rows[0].Name, rows[1].Name, rows[2].Name})

	assert.Equal(t, "node-a", rows[0].DeviceName)
	assert.Equal(t, "1.0", rows[0].DeviceVersion)
	assert.Empty(t, rows[1].DeviceName)
	assert.Empty(t, rows[1].DeviceVersion)
	assert.Equal(t, model.ProbeStatusTimedOut, rows[1].Status)
	assert.False(t, rows[1].Responded())
	assert.Equal(t, "node-c", rows[2].DeviceName)
	for _, row := range rows {
		assert.Equal(t, 115200, row.BaudRate)
	}

	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 1400*time.Millisecond)
	assert.Equal(t, int32(3), observed.Load())
	assert.Len(t, recorder.statuses, 3)
}

func TestOrchestratorCollapsesDuplicatePorts(t *testing.T) {
	opener := newFakeOpener()
	opener.transports["A"] = newFakeTransport(identityFrame(t, "node-a", "1.0"), 0)
	opener.failures["B"] = errors.New("permission denied")

	orchestrator := NewOrchestrator(newTestSession(opener), 0, zap.NewNop())
	rows := orchestrator.Probe(context.Background(), []model.ProbeRequest{
		request("A", time.Second),
		request("B", time.Second),
		request("A", 5*time.Second),
	}, nil)

	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].Name)
	assert.True(t, rows[0].Responded())
	assert.Equal(t, "B", rows[1].Name)
	assert.Equal(t, model.ProbeStatusTransportError, rows[1].Status)
	assert.Contains(t, rows[1].Error, "permission denied")
}

type gaugeProber struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (g *gaugeProber) Identify(ctx context.Context, req model.ProbeRequest) model.Outcome {
	n := g.active.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(100 * time.Millisecond)
	g.active.Add(-1)
	return model.Identified(model.Identity{Name: req.Port.Name})
}

func TestOrchestratorConcurrency(t *testing.T) {
	ports := []model.Port{{Name: "p0"}, {Name: "p1"}, {Name: "p2"}, {Name: "p3"}, {Name: "p4"}}
	requests := BuildRequests(ports, 9600, 0, model.SerialSettings{})

	uncapped := &gaugeProber{}
	rows := NewOrchestrator(uncapped, 0, zap.NewNop()).Probe(context.Background(), requests, nil)
	require.Len(t, rows, 5)
	assert.Equal(t, int32(5), uncapped.peak.Load())

	capped := &gaugeProber{}
	rows = NewOrchestrator(capped, 2, zap.NewNop()).Probe(context.Background(), requests, nil)
	require.Len(t, rows, 5)
	assert.LessOrEqual(t, capped.peak.Load(), int32(2))
	for i, row := range rows {
		assert.Equal(t, ports[i].Name, row.DeviceName)
	}
}

func TestOrchestratorEmptyRequests(t *testing.T) {
	rows := NewOrchestrator(&gaugeProber{}, 0, zap.NewNop()).Probe(context.Background(), nil, nil)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

type stubEnricher struct{}

func (stubEnricher) Enrich(_ context.Context, ports []model.Port) []model.Port {
	for i := range ports {
		ports[i].Manufacturer = "enriched"
	}
	return ports
}

func TestSerialEnumeratorFiltersAndSorts(t *testing.T) {
	se := NewSerialEnumerator([]string{"/dev/ttyACM*", "/dev/ttyUSB*"}, zap.NewNop(), WithEnricher(stubEnricher{}))
	se.detailed = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001"},
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", SerialNumber: "A1"},
		}, nil
	}

	ports, err := se.ListPorts(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "/dev/ttyACM0", ports[0].Name)
	assert.Equal(t, "2341", ports[0].VID)
	assert.Equal(t, "A1", ports[0].SerialNumber)
	assert.Equal(t, "/dev/ttyUSB0", ports[1].Name)
	assert.Equal(t, "enriched", ports[1].Manufacturer)
}

func TestSerialEnumeratorFallsBackToNames(t *testing.T) {
	se := NewSerialEnumerator(nil, zap.NewNop())
	se.detailed = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("unsupported") }
	se.plain = func() ([]string, error) { return []string{"COM4", "COM1"}, nil }

	ports, err := se.ListPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Port{{Name: "COM1"}, {Name: "COM4"}}, ports)

	se.plain = func() ([]string, error) { return nil, errors.New("no access") }
	_, err = se.ListPorts(context.Background())
	assert.Error(t, err)
}
