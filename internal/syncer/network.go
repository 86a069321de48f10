package syncer

import (
	"context"
	"log"
	"sync"
	"time"
)

// HealthChecker is the probe target; satisfied by api.Client
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NetworkMonitor watches connectivity to the authoritative server by
// probing its health endpoint on a short ticker. Transitions are published
// to subscribers; the engine uses them to trigger an immediate sync pass
// when the link comes back.
type NetworkMonitor struct {
	mu sync.RWMutex

	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration

	online     bool
	lastOnline *time.Time

	subscribers []chan bool
	stopChan    chan struct{}
	running     bool

	now func() time.Time
}

// NewNetworkMonitor creates a network monitor probing the given checker
func NewNetworkMonitor(checker HealthChecker, interval, timeout time.Duration) *NetworkMonitor {
	return &NetworkMonitor{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		stopChan: make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one synchronous probe to seed the initial state, then begins
// the probe loop
func (nm *NetworkMonitor) Start() {
	nm.mu.Lock()
	if nm.running {
		nm.mu.Unlock()
		return
	}
	nm.running = true
	nm.mu.Unlock()

	nm.Probe()
	go nm.probeLoop()
}

// Stop stops the probe loop
func (nm *NetworkMonitor) Stop() {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.running {
		return
	}
	nm.running = false
	close(nm.stopChan)
}

// IsOnline returns whether the server was reachable at the last probe
func (nm *NetworkMonitor) IsOnline() bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.online
}

// LastOnline returns when the server was last reachable
func (nm *NetworkMonitor) LastOnline() *time.Time {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.lastOnline
}

// Subscribe returns a channel receiving the online flag on every
// transition. Slow subscribers miss intermediate flips rather than blocking
// the monitor.
func (nm *NetworkMonitor) Subscribe() <-chan bool {
	ch := make(chan bool, 8)
	nm.mu.Lock()
	nm.subscribers = append(nm.subscribers, ch)
	nm.mu.Unlock()
	return ch
}

// Probe runs a single connectivity check and updates the state
func (nm *NetworkMonitor) Probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), nm.timeout)
	defer cancel()

	err := nm.checker.Health(ctx)
	nm.setOnline(err == nil)
	return err == nil
}

func (nm *NetworkMonitor) probeLoop() {
	ticker := time.NewTicker(nm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			nm.Probe()
		case <-nm.stopChan:
			return
		}
	}
}

func (nm *NetworkMonitor) setOnline(online bool) {
	nm.mu.Lock()
	changed := nm.online != online
	nm.online = online
	if online {
		now := nm.now()
		nm.lastOnline = &now
	}
	subscribers := nm.subscribers
	nm.mu.Unlock()

	if !changed {
		return
	}

	if online {
		log.Println("📶 Network: server reachable")
	} else {
		log.Println("📴 Network: server unreachable, engine goes offline")
	}

	for _, ch := range subscribers {
		select {
		case ch <- online:
		default:
		}
	}
}
