package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shiftwatch/fieldagent/internal/config"
	"github.com/shiftwatch/fieldagent/internal/models"
)

type fakeAgent struct {
	mu        sync.Mutex
	ready     chan struct{}
	incoming  chan []byte
	connected bool
	endpoints []string
	closed    bool
}

func newFakeAgent(readyAtStart bool) *fakeAgent {
	a := &fakeAgent{
		ready:    make(chan struct{}),
		incoming: make(chan []byte, 8),
	}
	if readyAtStart {
		a.connected = true
		close(a.ready)
	}
	return a
}

func (a *fakeAgent) Start() {}

func (a *fakeAgent) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *fakeAgent) Ready() <-chan struct{}  { return a.ready }
func (a *fakeAgent) Incoming() <-chan []byte { return a.incoming }

func (a *fakeAgent) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAgent) Identify(endpoint string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoints = append(a.endpoints, endpoint)
	return nil
}

func (a *fakeAgent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.closed = true
}

type fakeSubRemote struct {
	mu sync.Mutex

	key          string
	keyErrs      []error // consumed per FetchPushKey call
	keyFetches   int
	registerErr  error
	registered   []models.PushSubscription
	unregistered []string
}

func (r *fakeSubRemote) FetchPushKey(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyFetches++
	if len(r.keyErrs) > 0 {
		err := r.keyErrs[0]
		r.keyErrs = r.keyErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return r.key, nil
}

func (r *fakeSubRemote) RegisterPushSubscription(ctx context.Context, sub models.PushSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered = append(r.registered, sub)
	return nil
}

func (r *fakeSubRemote) UnregisterPushSubscription(ctx context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, endpoint)
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	received []models.IncomingMessage
	err      error
}

func (s *fakeSink) Reconcile(incoming []models.IncomingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.received = append(s.received, incoming...)
	return nil
}

func validServerKey(t *testing.T) string {
	t.Helper()
	keys, err := GenerateSubscriptionKeys()
	if err != nil {
		t.Fatalf("Failed to generate server key: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(keys.privateKey.PublicKey().Bytes())
}

func testManager(t *testing.T, cfg config.PushConfig, remote *fakeSubRemote, agent *fakeAgent) (*Manager, *fakeSink) {
	t.Helper()
	engineCfg := config.DefaultEngineConfig()
	engineCfg.ReadinessTimeoutSec = 1
	engineCfg.KeyFetchBackoffSec = 0 // no sleeping between attempts in tests

	sink := &fakeSink{}
	m := NewManager(cfg, engineCfg, remote, sink)
	m.agent = agent
	return m, sink
}

func grantedCfg() config.PushConfig {
	return config.PushConfig{
		GatewayURL: "wss://gateway.example",
		Platform:   "linux",
		Permission: "granted",
	}
}

func TestManager_Subscribe(t *testing.T) {
	remote := &fakeSubRemote{key: validServerKey(t)}
	agent := newFakeAgent(true)
	m, _ := testManager(t, grantedCfg(), remote, agent)

	sub, err := m.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !strings.HasPrefix(sub.Endpoint, "wss://gateway.example/sub/") {
		t.Errorf("Unexpected endpoint %s", sub.Endpoint)
	}
	if sub.P256dhKey == "" || sub.AuthKey == "" {
		t.Error("Descriptor missing encryption material")
	}
	if len(agent.endpoints) != 1 || agent.endpoints[0] != sub.Endpoint {
		t.Errorf("Agent not identified with the endpoint: %v", agent.endpoints)
	}
	if len(remote.registered) != 1 {
		t.Fatalf("Expected one server registration, got %d", len(remote.registered))
	}
	if remote.registered[0].Endpoint != sub.Endpoint {
		t.Error("Server got a different descriptor")
	}

	status := m.Status()
	if !status.Supported || !status.Subscribed || status.Permission != models.PushPermissionGranted {
		t.Errorf("Unexpected status after subscribe: %+v", status)
	}

	// Re-subscribing while live is idempotent
	again, err := m.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Idempotent subscribe failed: %v", err)
	}
	if again.Endpoint != sub.Endpoint {
		t.Error("Idempotent subscribe must return the same descriptor")
	}
	if remote.keyFetches != 1 {
		t.Errorf("Server key must be cached for the session, fetched %d times", remote.keyFetches)
	}
}

func TestManager_Subscribe_Unsupported(t *testing.T) {
	cfg := grantedCfg()
	cfg.GatewayURL = ""
	m, _ := testManager(t, cfg, &fakeSubRemote{}, newFakeAgent(true))

	if _, err := m.Subscribe(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestManager_Subscribe_PermissionDenied(t *testing.T) {
	for _, permission := range []string{"denied", "", "default"} {
		cfg := grantedCfg()
		cfg.Permission = permission
		m, _ := testManager(t, cfg, &fakeSubRemote{}, newFakeAgent(true))

		if _, err := m.Subscribe(context.Background()); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("Permission %q: expected ErrPermissionDenied, got %v", permission, err)
		}
	}
}

func TestManager_Subscribe_KeyFetchRetriesThenFails(t *testing.T) {
	remote := &fakeSubRemote{keyErrs: []error{
		errors.New("HTTP 502"),
		errors.New("HTTP 502"),
		errors.New("HTTP 502"),
	}}
	m, _ := testManager(t, grantedCfg(), remote, newFakeAgent(true))

	_, err := m.Subscribe(context.Background())
	if !errors.Is(err, ErrKeyFetchFailed) {
		t.Fatalf("Expected ErrKeyFetchFailed, got %v", err)
	}
	if remote.keyFetches != 3 {
		t.Errorf("Expected 3 bounded attempts, got %d", remote.keyFetches)
	}
}

func TestManager_Subscribe_KeyFetchRecoversMidway(t *testing.T) {
	remote := &fakeSubRemote{
		key:     validServerKey(t),
		keyErrs: []error{errors.New("HTTP 502"), errors.New("HTTP 502"), nil},
	}
	m, _ := testManager(t, grantedCfg(), remote, newFakeAgent(true))

	if _, err := m.Subscribe(context.Background()); err != nil {
		t.Fatalf("Expected recovery on final attempt, got %v", err)
	}
	if remote.keyFetches != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", remote.keyFetches)
	}
}

func TestManager_Subscribe_BadServerKey(t *testing.T) {
	remote := &fakeSubRemote{key: "!definitely-not-a-key!"}
	m, _ := testManager(t, grantedCfg(), remote, newFakeAgent(true))

	if _, err := m.Subscribe(context.Background()); !errors.Is(err, ErrKeyFetchFailed) {
		t.Errorf("Expected ErrKeyFetchFailed for invalid key, got %v", err)
	}
}

func TestManager_Subscribe_BadKeyIsNotCached(t *testing.T) {
	remote := &fakeSubRemote{key: "!definitely-not-a-key!"}
	m, _ := testManager(t, grantedCfg(), remote, newFakeAgent(true))

	if _, err := m.Subscribe(context.Background()); !errors.Is(err, ErrKeyFetchFailed) {
		t.Fatalf("Expected ErrKeyFetchFailed for malformed key, got %v", err)
	}
	fetchesAfterFailure := remote.keyFetches
	if fetchesAfterFailure != 3 {
		t.Errorf("Malformed key must burn all bounded attempts, got %d", fetchesAfterFailure)
	}

	// Once the server is fixed, the next subscribe must fetch fresh instead
	// of replaying the malformed key for the rest of the session
	remote.mu.Lock()
	remote.key = validServerKey(t)
	remote.mu.Unlock()

	if _, err := m.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe after the server was fixed failed: %v", err)
	}
	if remote.keyFetches != fetchesAfterFailure+1 {
		t.Errorf("Expected one fresh fetch after recovery, counter went %d -> %d",
			fetchesAfterFailure, remote.keyFetches)
	}
}

func TestManager_StatusNotBlockedDuringSubscribe(t *testing.T) {
	remote := &fakeSubRemote{key: validServerKey(t)}
	agent := newFakeAgent(false) // keeps Subscribe in the readiness wait
	m, _ := testManager(t, grantedCfg(), remote, agent)

	done := make(chan struct{})
	go func() {
		_, _ = m.Subscribe(context.Background())
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	m.Status()
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Status blocked for %v while a subscribe was in flight", elapsed)
	}

	<-done
}

func TestManager_Subscribe_PartialSuccess(t *testing.T) {
	remote := &fakeSubRemote{
		key:         validServerKey(t),
		registerErr: errors.New("HTTP 500"),
	}
	m, _ := testManager(t, grantedCfg(), remote, newFakeAgent(true))

	sub, err := m.Subscribe(context.Background())
	if !errors.Is(err, ErrServerRegistrationFailed) {
		t.Fatalf("Expected ErrServerRegistrationFailed, got %v", err)
	}
	if sub == nil {
		t.Fatal("Partial success must still return the descriptor")
	}

	// Re-subscribing while the server is still down must not claim success
	if _, err := m.Subscribe(context.Background()); !errors.Is(err, ErrServerRegistrationFailed) {
		t.Errorf("Expected repeated partial failure, got %v", err)
	}

	// Retry path succeeds once the server recovers
	remote.mu.Lock()
	remote.registerErr = nil
	remote.mu.Unlock()

	if err := m.RetryServerRegistration(context.Background()); err != nil {
		t.Errorf("Retry after recovery failed: %v", err)
	}
	if len(remote.registered) != 1 {
		t.Errorf("Expected the retry to register, got %d registrations", len(remote.registered))
	}

	// With registration complete, subscribe is fully idempotent again
	if _, err := m.Subscribe(context.Background()); err != nil {
		t.Errorf("Subscribe after completed registration failed: %v", err)
	}
	if len(remote.registered) != 1 {
		t.Errorf("Completed registration must not be re-sent, got %d", len(remote.registered))
	}
}

func TestManager_Subscribe_FallsBackToManualConnect(t *testing.T) {
	remote := &fakeSubRemote{key: validServerKey(t)}
	agent := newFakeAgent(false) // never signals readiness
	m, _ := testManager(t, grantedCfg(), remote, agent)

	start := time.Now()
	sub, err := m.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Expected manual connect fallback to succeed, got %v", err)
	}
	if sub == nil {
		t.Fatal("Expected a descriptor")
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("Expected the readiness timeout to elapse first, took %v", elapsed)
	}
}

func TestManager_Unsubscribe(t *testing.T) {
	remote := &fakeSubRemote{key: validServerKey(t)}
	agent := newFakeAgent(true)
	m, _ := testManager(t, grantedCfg(), remote, agent)

	if _, err := m.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	endpoint := remote.registered[0].Endpoint

	if err := m.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if !agent.closed {
		t.Error("Agent connection must be closed on unsubscribe")
	}
	if len(remote.unregistered) != 1 || remote.unregistered[0] != endpoint {
		t.Errorf("Server not told about the unsubscribe: %v", remote.unregistered)
	}
	if m.Status().Subscribed {
		t.Error("Status must show unsubscribed")
	}

	if err := m.Unsubscribe(context.Background()); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("Second unsubscribe must report ErrNotSubscribed, got %v", err)
	}
}

func TestManager_IncomingMessageDelivery(t *testing.T) {
	remote := &fakeSubRemote{key: validServerKey(t)}
	agent := newFakeAgent(true)
	m, sink := testManager(t, grantedCfg(), remote, agent)

	var notified []models.IncomingMessage
	var notifyMu sync.Mutex
	m.OnMessage = func(msg models.IncomingMessage) {
		notifyMu.Lock()
		notified = append(notified, msg)
		notifyMu.Unlock()
	}

	if _, err := m.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	raw, _ := json.Marshal(pushMessageDTO{
		ID:        "m-push-1",
		Title:     "Evacuation drill",
		Message:   "Assembly point B at 15:00",
		Timestamp: "2025-06-01T14:00:00Z",
		Audience:  []string{"site-a"},
	})
	agent.incoming <- encryptRecord(t, m.keys, raw, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.received)
		sink.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.received) != 1 {
		t.Fatalf("Expected 1 stored message, got %d", len(sink.received))
	}
	if sink.received[0].ID != "m-push-1" {
		t.Errorf("Wrong message stored: %+v", sink.received[0])
	}

	notifyMu.Lock()
	defer notifyMu.Unlock()
	if len(notified) != 1 || notified[0].ID != "m-push-1" {
		t.Errorf("OnMessage hook not invoked correctly: %v", notified)
	}

	m.Stop()
}

func TestManager_IncomingGarbageIsDropped(t *testing.T) {
	remote := &fakeSubRemote{key: validServerKey(t)}
	agent := newFakeAgent(true)
	m, sink := testManager(t, grantedCfg(), remote, agent)

	if _, err := m.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Undecryptable payload, then a decryptable non-message, then a message
	// missing its id: none of them may reach the sink
	agent.incoming <- []byte("junk")
	agent.incoming <- encryptRecord(t, m.keys, []byte("not json"), nil)
	agent.incoming <- encryptRecord(t, m.keys, []byte(`{"title":"no id"}`), nil)

	time.Sleep(100 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.received) != 0 {
		t.Errorf("Garbage payloads must be dropped, got %v", sink.received)
	}

	m.Stop()
}
