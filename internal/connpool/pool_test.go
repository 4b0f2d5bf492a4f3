package connpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeToken is a pahomqtt.Token that resolves immediately.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                  { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeTransport is a scripted mqttClient.
type fakeTransport struct {
	mu sync.Mutex

	connectErr   error
	subscribeErr error

	subscriptions map[string]pahomqtt.MessageHandler
	published     []publishRecord
	disconnected  bool

	lostHandler pahomqtt.ConnectionLostHandler
}

type publishRecord struct {
	topic   string
	payload []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subscriptions: make(map[string]pahomqtt.MessageHandler),
	}
}

func (f *fakeTransport) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fakeToken{err: f.connectErr}
}

func (f *fakeTransport) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return &fakeToken{err: f.subscribeErr}
	}
	f.subscriptions[topic] = callback
	return &fakeToken{}
}

func (f *fakeTransport) Publish(topic string, _ byte, _ bool, payload any) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := payload.([]byte)
	f.published = append(f.published, publishRecord{topic: topic, payload: raw})
	return &fakeToken{}
}

func (f *fakeTransport) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeTransport) deliver(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.subscriptions[topic]
	f.mu.Unlock()
	if handler != nil {
		handler(nil, &fakeMessage{topic: topic, payload: payload})
	}
}

func (f *fakeTransport) publishedTo(topic string) []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishRecord
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// fakeMessage implements pahomqtt.Message for handler delivery.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeTokens is a TokenSource serving a fixed token.
type fakeTokens struct {
	tokenErr    error
	invalidated atomic.Int64
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "access-1", nil
}

func (f *fakeTokens) Invalidate() {
	f.invalidated.Add(1)
}

// transportScript hands out transports per connect attempt.
type transportScript struct {
	mu         sync.Mutex
	transports []*fakeTransport
	created    int
	lostBound  []*fakeTransport
}

// next returns the scripted transport for the attempt, repeating the last
// one once the script runs out.
func (s *transportScript) newClient(opts *pahomqtt.ClientOptions) mqttClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.created
	if idx >= len(s.transports) {
		idx = len(s.transports) - 1
	}
	s.created++
	tr := s.transports[idx]
	tr.mu.Lock()
	tr.lostHandler = opts.OnConnectionLost
	tr.mu.Unlock()
	return tr
}

func (s *transportScript) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func testPoolConfig() Config {
	return Config{
		Host:         "broker.test.local",
		Port:         443,
		QoS:          1,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
	}
}

// newTestPool builds a pool whose connections use scripted transports.
func newTestPool(tokens TokenSource, handler FrameHandler, script *transportScript) *Pool {
	pool := NewPool(testPoolConfig(), tokens, handler)
	pool.newClient = script.newClient
	return pool
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var testDevice = Device{ID: "dev-1", IMEI: "356307042441013"}

// =============================================================================
// Connection Lifecycle Tests
// =============================================================================

func TestEnsureConnected_ReachesReady(t *testing.T) {
	tr := newFakeTransport()
	script := &transportScript{transports: []*fakeTransport{tr}}
	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)
	defer pool.Close()

	if err := pool.EnsureConnected(testDevice); err != nil {
		t.Fatalf("EnsureConnected() error = %v", err)
	}

	waitFor(t, "Ready state", func() bool {
		state, ok := pool.State(testDevice.ID)
		return ok && state == StateReady
	})

	// Ready requires the status subscription and the snapshot request.
	statusTopic := Topics{}.DeviceStatus(testDevice.IMEI)
	tr.mu.Lock()
	_, subscribed := tr.subscriptions[statusTopic]
	tr.mu.Unlock()
	if !subscribed {
		t.Errorf("no subscription on %s", statusTopic)
	}

	reqs := tr.publishedTo(Topics{}.DeviceRequest(testDevice.IMEI))
	if len(reqs) != 1 {
		t.Fatalf("snapshot requests = %d, want 1", len(reqs))
	}
	if string(reqs[0].payload) != `{"method":"GET"}` {
		t.Errorf("snapshot payload = %s", reqs[0].payload)
	}
}

func TestEnsureConnected_ReusesLiveConnection(t *testing.T) {
	script := &transportScript{transports: []*fakeTransport{newFakeTransport()}}
	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)
	defer pool.Close()

	pool.EnsureConnected(testDevice)
	waitFor(t, "Ready state", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady
	})

	if err := pool.EnsureConnected(testDevice); err != nil {
		t.Fatalf("second EnsureConnected() error = %v", err)
	}
	if got := pool.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", got)
	}
	if got := script.createdCount(); got != 1 {
		t.Errorf("transport attempts = %d, want 1 (no replacement)", got)
	}
}

func TestConnection_InboundFramesReachHandler(t *testing.T) {
	tr := newFakeTransport()
	script := &transportScript{transports: []*fakeTransport{tr}}

	type frame struct {
		deviceID string
		payload  string
	}
	frames := make(chan frame, 1)
	pool := newTestPool(&fakeTokens{}, func(deviceID string, payload []byte) {
		frames <- frame{deviceID: deviceID, payload: string(payload)}
	}, script)
	defer pool.Close()

	pool.EnsureConnected(testDevice)
	waitFor(t, "Ready state", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady
	})

	tr.deliver(Topics{}.DeviceStatus(testDevice.IMEI), []byte(`{"type":"alarmPayload"}`))

	select {
	case got := <-frames:
		if got.deviceID != testDevice.ID {
			t.Errorf("handler deviceID = %q, want %q", got.deviceID, testDevice.ID)
		}
		if got.payload != `{"type":"alarmPayload"}` {
			t.Errorf("handler payload = %s", got.payload)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never reached handler")
	}
}

func TestConnection_SubscribeFailureRetries(t *testing.T) {
	failing := newFakeTransport()
	failing.subscribeErr = errors.New("subscription refused")
	working := newFakeTransport()
	script := &transportScript{transports: []*fakeTransport{failing, working}}

	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)
	defer pool.Close()

	pool.EnsureConnected(testDevice)

	// Subscription failure must tear down rather than leave a half-ready
	// connection; the next attempt succeeds.
	waitFor(t, "Ready state after retry", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady
	})

	failing.mu.Lock()
	tornDown := failing.disconnected
	failing.mu.Unlock()
	if !tornDown {
		t.Error("failed attempt's transport was not disconnected")
	}
}

func TestConnection_AuthRefusalInvalidatesToken(t *testing.T) {
	refused := newFakeTransport()
	refused.connectErr = errors.New("connection refused: bad user name or password")
	working := newFakeTransport()
	script := &transportScript{transports: []*fakeTransport{refused, working}}

	tokens := &fakeTokens{}
	pool := newTestPool(tokens, func(string, []byte) {}, script)
	defer pool.Close()

	pool.EnsureConnected(testDevice)

	waitFor(t, "Ready state after credential refresh", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady
	})

	if got := tokens.invalidated.Load(); got != 1 {
		t.Errorf("Invalidate calls = %d, want 1", got)
	}
}

func TestConnection_LostTransportReconnects(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	script := &transportScript{transports: []*fakeTransport{first, second}}

	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)
	defer pool.Close()

	pool.EnsureConnected(testDevice)
	waitFor(t, "initial Ready", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady
	})

	first.mu.Lock()
	lost := first.lostHandler
	first.mu.Unlock()
	lost(nil, errors.New("broker went away"))

	waitFor(t, "Ready on new transport", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady && script.createdCount() == 2
	})
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish_UnknownDevice(t *testing.T) {
	script := &transportScript{transports: []*fakeTransport{newFakeTransport()}}
	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)
	defer pool.Close()

	err := pool.Publish("nobody", "some/topic", []byte("x"))
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Publish() error = %v, want ErrUnknownDevice", err)
	}
}

func TestPublish_NotReadyFailsImmediately(t *testing.T) {
	// A transport that always refuses keeps the connection in Reconnecting.
	refusing := newFakeTransport()
	refusing.connectErr = errors.New("connection refused: server unavailable")
	script := &transportScript{transports: []*fakeTransport{refusing}}

	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)
	defer pool.Close()

	pool.EnsureConnected(testDevice)
	waitFor(t, "Reconnecting state", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReconnecting
	})

	err := pool.Publish(testDevice.ID, "some/topic", []byte("x"))
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Publish() error = %v, want ErrNotReady", err)
	}
	if len(refusing.publishedTo("some/topic")) != 0 {
		t.Error("Publish() against non-Ready connection attempted network I/O")
	}
}

func TestPublish_Ready(t *testing.T) {
	tr := newFakeTransport()
	script := &transportScript{transports: []*fakeTransport{tr}}
	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)
	defer pool.Close()

	pool.EnsureConnected(testDevice)
	waitFor(t, "Ready state", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady
	})

	topic := Topics{}.DeviceControl(testDevice.IMEI)
	if err := pool.Publish(testDevice.ID, topic, []byte(`{"method":"POST"}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := len(tr.publishedTo(topic)); got != 1 {
		t.Errorf("control publishes = %d, want 1", got)
	}
}

// =============================================================================
// Shutdown Tests
// =============================================================================

func TestClose_TerminalAndIdempotent(t *testing.T) {
	script := &transportScript{transports: []*fakeTransport{newFakeTransport()}}
	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)

	pool.EnsureConnected(testDevice)
	waitFor(t, "Ready state", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady
	})

	pool.Close()
	pool.Close() // idempotent

	if err := pool.EnsureConnected(testDevice); !errors.Is(err, ErrClosed) {
		t.Errorf("EnsureConnected() after Close = %v, want ErrClosed", err)
	}
	if err := pool.Publish(testDevice.ID, "t", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close = %v, want ErrClosed", err)
	}
}

func TestRemove_ClosesConnection(t *testing.T) {
	script := &transportScript{transports: []*fakeTransport{newFakeTransport()}}
	pool := newTestPool(&fakeTokens{}, func(string, []byte) {}, script)
	defer pool.Close()

	pool.EnsureConnected(testDevice)
	waitFor(t, "Ready state", func() bool {
		state, _ := pool.State(testDevice.ID)
		return state == StateReady
	})

	pool.Remove(testDevice.ID)

	if got := pool.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", got)
	}
	if _, ok := pool.State(testDevice.ID); ok {
		t.Error("State() still reports removed device")
	}
}

// =============================================================================
// State String Tests
// =============================================================================

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateSubscribing, "subscribing"},
		{StateReady, "ready"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
