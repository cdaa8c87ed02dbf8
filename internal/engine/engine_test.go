package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"incubator-link/internal/bus"
	"incubator-link/internal/config"
	"incubator-link/internal/core/link"
	"incubator-link/internal/device"
	"incubator-link/internal/discovery/probe"
	"incubator-link/internal/events"
)

// hang never finds anything and returns only when cancelled.
type hang struct{ id device.StrategyID }

func (h hang) ID() device.StrategyID { return h.id }
func (h hang) Probe(ctx context.Context, _ chan<- device.ProbeResult) {
	<-ctx.Done()
}

type foundRecorder struct {
	mu    sync.Mutex
	found []device.Endpoint
}

func (r *foundRecorder) DeviceFound(ep device.Endpoint) {
	r.mu.Lock()
	r.found = append(r.found, ep)
	r.mu.Unlock()
}
func (r *foundRecorder) ConnectionStatusChanged(bool, string) {}
func (r *foundRecorder) DiscoveryComplete()                   {}
func (r *foundRecorder) DiscoveryFailed(string)               {}

func (r *foundRecorder) all() []device.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Endpoint(nil), r.found...)
}

func incubatorServer(t *testing.T) (*httptest.Server, int) {
	t.Helper()
	srv, port, _ := countingIncubator(t)
	return srv, port
}

// countingIncubator is incubatorServer that also counts mode commands.
func countingIncubator(t *testing.T) (*httptest.Server, int, *atomic.Int32) {
	t.Helper()
	modeHits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"temperature": 37.6, "humidity": 55, "status": "heating"})
		case "/ping":
			_, _ = w.Write([]byte("pong"))
		case "/api/mode":
			if r.Method != http.MethodPost {
				http.Error(w, "method", http.StatusMethodNotAllowed)
				return
			}
			modeHits.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return srv, port, modeHits
}

// udpResponder answers the discovery datagram after delay.
func udpResponder(t *testing.T, delay time.Duration, reply string) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	go func() {
		buf := make([]byte, 256)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) != "DISCOVER_INCUBATOR" {
				continue
			}
			time.Sleep(delay)
			_, _ = pc.WriteTo([]byte(reply), from)
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

func newTestEngine(t *testing.T, rec *foundRecorder, strategies func(probe.Set) probe.Set) *Engine {
	t.Helper()
	return newTestEngineWith(t, rec, strategies, nil)
}

func newTestEngineWith(t *testing.T, rec *foundRecorder, strategies func(probe.Set) probe.Set, tune func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Verify.LayerTimeout = time.Second
	if tune != nil {
		tune(&cfg)
	}
	e, err := New(Options{
		Config:       cfg,
		Log:          zaptest.NewLogger(t),
		Observers:    []link.Observer{rec},
		Strategies:   strategies,
		NetworkCheck: func() error { return nil },
	})
	require.NoError(t, err)
	return e
}

func localBroadcast(udpPort int) probe.Strategy {
	return probe.NewBroadcast(probe.BroadcastConfig{
		Port:          udpPort,
		ListenTimeout: 3 * time.Second,
	},
		func() (net.PacketConn, error) { return net.ListenPacket("udp4", "127.0.0.1:0") },
		func() ([]net.IP, error) { return []net.IP{net.IPv4(127, 0, 0, 1)}, nil },
	)
}

func allHanging(probe.Set) probe.Set {
	return probe.Set{
		DirectAP:      hang{device.StrategyDirectIP},
		CommonGateway: hang{device.StrategyCommonGateway},
		ServiceName:   hang{device.StrategyServiceName},
		Broadcast:     hang{device.StrategyBroadcast},
		Sweep:         hang{device.StrategySubnetSweep},
		NSD:           hang{device.StrategyNSD},
	}
}

func TestDiscoverFindsDeviceByBroadcastInUnknownMode(t *testing.T) {
	_, httpPort := incubatorServer(t)
	udpPort := udpResponder(t, 2*time.Second, fmt.Sprintf("INCUBATOR_HERE;port=%d;mode=sta", httpPort))

	rec := &foundRecorder{}
	e := newTestEngine(t, rec, func(s probe.Set) probe.Set {
		set := allHanging(s)
		set.Broadcast = localBroadcast(udpPort)
		return set
	})
	require.Equal(t, device.ModeUnknown, e.State().Mode)

	start := time.Now()
	ep, ok, err := e.Discover(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Equal(t, "127.0.0.1", ep.Address)
	assert.Equal(t, httpPort, ep.Port)

	st := e.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, device.ModeStation, st.Mode)
	assert.False(t, st.DiscoveryInFlight)
	assert.True(t, st.Connected())

	require.Len(t, rec.all(), 1)
	snap := e.Status().Get()
	assert.True(t, snap.Connected)
	assert.Equal(t, 1, snap.DiscoveryCount)

	status, err := e.DeviceStatus(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 37.6, status.TemperatureC, 0.001)
	assert.Equal(t, "heating", status.Fields["status"])
}

func TestDisabledStrategiesAreNotBuilt(t *testing.T) {
	cfg := config.Default()
	cfg.Discovery.Disabled = []string{"nsd", "subnet_sweep", "broadcast"}
	e, err := New(Options{Config: cfg, Log: zaptest.NewLogger(t)})
	require.NoError(t, err)

	var ids []device.StrategyID
	for _, s := range e.ctrl.Plan(device.ModeUnknown).Tiers[0] {
		ids = append(ids, s.ID())
	}
	assert.NotContains(t, ids, device.StrategyNSD)
	assert.NotContains(t, ids, device.StrategySubnetSweep)
	assert.NotContains(t, ids, device.StrategyBroadcast)
	assert.Contains(t, ids, device.StrategyServiceName)
}

func TestParseTarget(t *testing.T) {
	e, err := New(Options{Config: config.Default()})
	require.NoError(t, err)

	ep, err := e.ParseTarget("10.0.0.7", device.ModeStation)
	require.NoError(t, err)
	assert.Equal(t, device.Endpoint{Address: "10.0.0.7", Port: 80, Mode: device.ModeStation}, ep)

	ep, err = e.ParseTarget("10.0.0.7:8080", device.ModeStation)
	require.NoError(t, err)
	assert.Equal(t, 8080, ep.Port)

	_, err = e.ParseTarget("10.0.0.7:http", device.ModeStation)
	assert.Error(t, err)

	ep, err = e.ParseTarget("", device.ModeAccessPoint)
	require.NoError(t, err)
	assert.True(t, ep.IsZero())
}

type fakeMessage struct {
	data               []byte
	acked, naked, term bool
}

func (m *fakeMessage) Data() []byte { return m.data }
func (m *fakeMessage) Ack() error   { m.acked = true; return nil }
func (m *fakeMessage) Nak() error   { m.naked = true; return nil }
func (m *fakeMessage) Term() error  { m.term = true; return nil }

type onceConsumer struct {
	mu     sync.Mutex
	batch  []bus.Message
	served chan struct{}
}

func (c *onceConsumer) Fetch(ctx context.Context, _ int, wait time.Duration) ([]bus.Message, error) {
	c.mu.Lock()
	b := c.batch
	c.batch = nil
	c.mu.Unlock()
	if b != nil {
		return b, nil
	}
	select {
	case c.served <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
	return nil, nil
}

func TestServeCommandsAppliesModeSwitch(t *testing.T) {
	_, httpPort := incubatorServer(t)
	schema, err := events.LoadSchema()
	require.NoError(t, err)

	good, err := events.EncodeModeSwitch(schema, "test", events.ModeSwitch{
		Mode:   device.ModeAccessPoint,
		Target: device.Endpoint{Address: "127.0.0.1", Port: httpPort},
	})
	require.NoError(t, err)
	bad := &fakeMessage{data: []byte("not protobuf at all")}
	ok := &fakeMessage{data: good}
	consumer := &onceConsumer{batch: []bus.Message{bad, ok}, served: make(chan struct{}, 1)}

	rec := &foundRecorder{}
	e := newTestEngine(t, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.ServeCommands(ctx, consumer, schema) }()

	select {
	case <-consumer.served:
	case <-time.After(10 * time.Second):
		t.Fatal("commands were not processed")
	}
	cancel()
	require.NoError(t, <-done)

	assert.True(t, bad.term)
	assert.False(t, bad.acked)
	assert.True(t, ok.acked)

	st := e.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, device.ModeAccessPoint, st.Mode)
	assert.Equal(t, httpPort, st.Current.Port)
	assert.Len(t, rec.all(), 1)
}

func TestBroadcastReplyFromAPAddressAdoptsAccessPoint(t *testing.T) {
	_, httpPort := incubatorServer(t)
	// older firmware omits the mode field
	udpPort := udpResponder(t, 0, fmt.Sprintf("INCUBATOR_HERE;port=%d", httpPort))

	rec := &foundRecorder{}
	e := newTestEngineWith(t, rec, func(s probe.Set) probe.Set {
		set := allHanging(s)
		set.Broadcast = localBroadcast(udpPort)
		return set
	}, func(cfg *config.Config) {
		cfg.Device.APAddress = "127.0.0.1"
		cfg.Device.Port = httpPort
	})

	ep, ok, err := e.Discover(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", ep.Address)

	st := e.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, device.ModeAccessPoint, st.Current.Mode)
	assert.Equal(t, device.ModeAccessPoint, st.Mode)
	require.Len(t, rec.all(), 1)
	assert.Equal(t, device.ModeAccessPoint, rec.all()[0].Mode)
}

func TestModeCommandWaitsForRunningDiscovery(t *testing.T) {
	_, httpPort, modeHits := countingIncubator(t)
	schema, err := events.LoadSchema()
	require.NoError(t, err)

	rec := &foundRecorder{}
	e := newTestEngineWith(t, rec, allHanging, nil)
	here := device.Endpoint{Address: "127.0.0.1", Port: httpPort, Mode: device.ModeStation}
	require.True(t, e.ctrl.Adopt(here))

	data, err := events.EncodeModeSwitch(schema, "test", events.ModeSwitch{Mode: device.ModeAccessPoint, Target: here})
	require.NoError(t, err)
	log := zaptest.NewLogger(t)

	dctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = e.Discover(dctx)
	}()
	require.Eventually(t, func() bool { return e.State().DiscoveryInFlight }, 2*time.Second, 5*time.Millisecond)

	deferred := &fakeMessage{data: data}
	e.handleCommand(context.Background(), log, deferred, schema)
	assert.True(t, deferred.naked)
	assert.False(t, deferred.acked)
	assert.Equal(t, int32(0), modeHits.Load(), "no device command while a cycle runs")
	assert.Equal(t, device.ModeStation, e.State().Mode)

	stop()
	<-done

	applied := &fakeMessage{data: data}
	e.handleCommand(context.Background(), log, applied, schema)
	assert.True(t, applied.acked)
	assert.False(t, applied.naked)
	assert.Equal(t, int32(1), modeHits.Load())
	assert.Equal(t, device.ModeAccessPoint, e.State().Mode)
}
