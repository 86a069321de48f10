package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shiftwatch/fieldagent/internal/config"
	"github.com/shiftwatch/fieldagent/internal/models"
)

// RemoteAPI is the server boundary for subscription lifecycle calls.
// Satisfied by api.Client.
type RemoteAPI interface {
	FetchPushKey(ctx context.Context) (string, error)
	RegisterPushSubscription(ctx context.Context, sub models.PushSubscription) error
	UnregisterPushSubscription(ctx context.Context, endpoint string) error
}

// MessageSink receives decrypted push messages; satisfied by
// store.MessageStore
type MessageSink interface {
	Reconcile(incoming []models.IncomingMessage) error
}

// transport abstracts the background messaging agent for tests
type transport interface {
	Start()
	Connect() error
	Ready() <-chan struct{}
	Incoming() <-chan []byte
	IsConnected() bool
	Identify(endpoint string) error
	Close()
}

// Manager owns the push subscription lifecycle: transport readiness, server
// key retrieval, subscribe/unsubscribe, and server registration of the
// descriptor. It is the only engine component that surfaces typed errors
// directly, because subscribing is a user-initiated action that expects
// explicit feedback.
type Manager struct {
	mu sync.Mutex

	cfg       config.PushConfig
	engineCfg *config.EngineConfig
	remote    RemoteAPI
	sink      MessageSink
	agent     transport

	// OnMessage, when set, is invoked for every decrypted push message
	// after it lands in the sink. Used to fan events out to UI clients.
	OnMessage func(models.IncomingMessage)

	keys             *SubscriptionKeys
	sub              *models.PushSubscription
	serverRegistered bool
	serverKey        string // session-only cache; the key can rotate across restarts

	receiveOnce sync.Once
	stopChan    chan struct{}
}

// NewManager creates a push subscription manager
func NewManager(cfg config.PushConfig, engineCfg *config.EngineConfig, remote RemoteAPI, sink MessageSink) *Manager {
	return &Manager{
		cfg:       cfg,
		engineCfg: engineCfg,
		remote:    remote,
		sink:      sink,
		agent:     NewTransport(cfg.GatewayURL),
		stopChan:  make(chan struct{}),
	}
}

// Status computes the current subscription state from live primitives.
// Nothing is cached: permission can change underneath us at any time.
func (m *Manager) Status() models.PushStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.PushStatus{
		Supported:  m.cfg.GatewayURL != "",
		Permission: m.permission(),
		Subscribed: m.sub != nil && m.agent.IsConnected(),
	}
}

// Subscribe walks the full subscription flow and returns the registered
// descriptor. On ErrServerRegistrationFailed the platform subscription
// already exists and the descriptor is returned alongside the error; the
// caller can retry via RetryServerRegistration. The long waits (agent
// readiness, key-fetch backoff) run unlocked so Status() stays responsive
// while a subscribe is in flight.
func (m *Manager) Subscribe(ctx context.Context) (*models.PushSubscription, error) {
	m.mu.Lock()
	if m.cfg.GatewayURL == "" {
		m.mu.Unlock()
		return nil, ErrUnsupported
	}
	if perm := m.permission(); perm != models.PushPermissionGranted {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: permission is %q", ErrPermissionDenied, perm)
	}

	if m.sub != nil && m.agent.IsConnected() {
		sub := m.sub
		registered := m.serverRegistered
		m.mu.Unlock()

		if !registered {
			// Earlier partial success; only the server half is missing
			if err := m.remote.RegisterPushSubscription(ctx, *sub); err != nil {
				return sub, fmt.Errorf("%w: %v", ErrServerRegistrationFailed, err)
			}
			m.mu.Lock()
			m.serverRegistered = true
			m.mu.Unlock()
		}
		return sub, nil
	}
	m.mu.Unlock()

	if err := m.waitForAgent(); err != nil {
		return nil, err
	}

	if _, err := m.fetchServerKey(ctx); err != nil {
		return nil, err
	}

	keys, err := GenerateSubscriptionKeys()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	m.mu.Lock()
	if m.sub != nil && m.agent.IsConnected() {
		// A concurrent subscribe finished while we were waiting
		sub := m.sub
		m.mu.Unlock()
		return sub, nil
	}

	endpoint := m.cfg.GatewayURL + "/sub/" + uuid.New().String()
	if err := m.agent.Identify(endpoint); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	sub := &models.PushSubscription{
		Endpoint:  endpoint,
		P256dhKey: keys.P256dh(),
		AuthKey:   keys.Auth(),
		UserAgent: "fieldagent",
		Platform:  m.cfg.Platform,
	}
	m.keys = keys
	m.sub = sub
	m.serverRegistered = false
	m.startReceiving()
	m.mu.Unlock()

	if err := m.remote.RegisterPushSubscription(ctx, *sub); err != nil {
		// Partial success: the platform subscription is live, only the
		// server does not know about it yet
		return sub, fmt.Errorf("%w: %v", ErrServerRegistrationFailed, err)
	}

	m.mu.Lock()
	m.serverRegistered = true
	m.mu.Unlock()

	log.Printf("🔔 Push subscription registered: %s", endpoint)
	return sub, nil
}

// RetryServerRegistration re-sends the current descriptor after a partial
// success; the server treats it idempotently
func (m *Manager) RetryServerRegistration(ctx context.Context) error {
	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()

	if sub == nil {
		return ErrNotSubscribed
	}
	if err := m.remote.RegisterPushSubscription(ctx, *sub); err != nil {
		return fmt.Errorf("%w: %v", ErrServerRegistrationFailed, err)
	}

	m.mu.Lock()
	m.serverRegistered = true
	m.mu.Unlock()
	return nil
}

// Unsubscribe tears down the platform subscription and tells the server,
// best effort. A 404 from the server already means the desired end state.
func (m *Manager) Unsubscribe(ctx context.Context) error {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.keys = nil
	m.serverRegistered = false
	m.mu.Unlock()

	if sub == nil {
		return ErrNotSubscribed
	}

	m.agent.Close()

	if err := m.remote.UnregisterPushSubscription(ctx, sub.Endpoint); err != nil {
		// Local teardown succeeded; the server will drop the dead
		// subscription on its next delivery failure
		log.Printf("⚠️  Server unsubscribe failed (continuing): %v", err)
	}
	log.Println("🔕 Push subscription removed")
	return nil
}

// Stop shuts the manager down without touching the server
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.stopChan:
	default:
		close(m.stopChan)
	}
	m.agent.Close()
}

// waitForAgent waits for the background agent bounded by the readiness
// timeout, then falls back to one manual connection attempt. Never hangs
// indefinitely.
func (m *Manager) waitForAgent() error {
	m.agent.Start()

	select {
	case <-m.agent.Ready():
		return nil
	case <-time.After(m.engineCfg.ReadinessTimeout()):
	}

	log.Println("⚠️  Push agent not ready in time, attempting manual connect")
	if err := m.agent.Connect(); err != nil {
		return fmt.Errorf("%w: agent not ready and manual connect failed: %v", ErrRegistrationFailed, err)
	}
	return nil
}

// fetchServerKey retrieves the server public key with bounded attempts and
// linear backoff, caching it for the session only. A key that fails P-256
// validation counts as a failed attempt and is never cached, so a transient
// bad response cannot poison every later subscribe in the session.
func (m *Manager) fetchServerKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	cached := m.serverKey
	m.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.engineCfg.KeyFetchAttempts; attempt++ {
		key, err := m.remote.FetchPushKey(ctx)
		if err == nil {
			if _, parseErr := ParseServerKey(key); parseErr == nil {
				m.mu.Lock()
				m.serverKey = key
				m.mu.Unlock()
				return key, nil
			} else {
				err = parseErr
			}
		}
		lastErr = err
		log.Printf("⚠️  Push key fetch attempt %d/%d failed: %v", attempt, m.engineCfg.KeyFetchAttempts, err)

		if attempt < m.engineCfg.KeyFetchAttempts {
			select {
			case <-time.After(time.Duration(attempt) * m.engineCfg.KeyFetchBackoff()):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrKeyFetchFailed, ctx.Err())
			}
		}
	}
	return "", fmt.Errorf("%w: %v", ErrKeyFetchFailed, lastErr)
}

// startReceiving begins decrypting and delivering incoming payloads; runs
// once per manager
func (m *Manager) startReceiving() {
	m.receiveOnce.Do(func() {
		go m.receiveLoop()
	})
}

func (m *Manager) receiveLoop() {
	for {
		select {
		case payload := <-m.agent.Incoming():
			m.handlePayload(payload)
		case <-m.stopChan:
			return
		}
	}
}

// pushMessageDTO is the decrypted payload shape; same contract as the
// message list endpoint
type pushMessageDTO struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	Audience  []string `json:"audience"`
}

func (m *Manager) handlePayload(payload []byte) {
	m.mu.Lock()
	keys := m.keys
	m.mu.Unlock()

	if keys == nil {
		log.Println("⚠️  Push payload received without subscription keys, dropping")
		return
	}

	plain, err := keys.Decrypt(payload)
	if err != nil {
		log.Printf("⚠️  Push payload decryption failed: %v", err)
		return
	}

	var dto pushMessageDTO
	if err := json.Unmarshal(plain, &dto); err != nil {
		log.Printf("⚠️  Push payload is not a message: %v", err)
		return
	}
	if dto.ID == "" {
		log.Println("⚠️  Push message missing id, dropping")
		return
	}

	ts, err := time.Parse(time.RFC3339, dto.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	msg := models.IncomingMessage{
		ID:        dto.ID,
		Title:     dto.Title,
		Message:   dto.Message,
		Timestamp: ts.UTC(),
		Audience:  dto.Audience,
	}

	if err := m.sink.Reconcile([]models.IncomingMessage{msg}); err != nil {
		log.Printf("⚠️  Could not store push message %s: %v", msg.ID, err)
		return
	}
	log.Printf("📨 Push message stored: %s", msg.ID)

	if m.OnMessage != nil {
		m.OnMessage(msg)
	}
}

// permission reads the platform permission signal; callers hold m.mu
func (m *Manager) permission() models.PushPermission {
	switch m.cfg.Permission {
	case "granted":
		return models.PushPermissionGranted
	case "denied":
		return models.PushPermissionDenied
	default:
		return models.PushPermissionDefault
	}
}
