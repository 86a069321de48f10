package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shiftwatch/fieldagent/internal/config"
	"github.com/shiftwatch/fieldagent/internal/models"
	"github.com/shiftwatch/fieldagent/internal/store"
)

// Engine is the sync orchestrator. It owns the single NetworkState, drives
// the durable write queue through its lifecycle against the remote API,
// refreshes the reference cache and message store, and schedules periodic
// and transition-triggered sync passes. It is the only component that talks
// to the remote API on behalf of the stores.
type Engine struct {
	mu sync.RWMutex

	queue    ReportQueue
	contacts ContactCache
	messages MessageStore
	remote   RemoteAPI
	monitor  *NetworkMonitor
	cfg      *config.EngineConfig

	// OnReportUpdate, when set before Start, is invoked after a drain
	// changes a report's status. Used to fan report lifecycle events out
	// to UI clients.
	OnReportUpdate func(id string, status models.ReportStatus)

	state       NetworkState
	isRunning   bool
	subscribers []chan NetworkState

	stopChan chan struct{}
	syncChan chan struct{}

	now func() time.Time
}

// NewEngine creates a sync engine over the given stores and remote client
func NewEngine(queue ReportQueue, contacts ContactCache, messages MessageStore, remote RemoteAPI, monitor *NetworkMonitor, cfg *config.EngineConfig) *Engine {
	return &Engine{
		queue:    queue,
		contacts: contacts,
		messages: messages,
		remote:   remote,
		monitor:  monitor,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		syncChan: make(chan struct{}, 16),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start recovers queue state, seeds connectivity, and begins the worker and
// timer loops
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("sync engine already running")
	}
	e.isRunning = true
	e.mu.Unlock()

	log.Println("🔄 Sync engine starting...")

	if _, err := e.queue.RecoverInterrupted(); err != nil {
		// Storage trouble at startup is non-fatal; the queue simply has
		// nothing recoverable to offer this session
		log.Printf("⚠️  Queue recovery failed: %v", err)
	}

	transitions := e.monitor.Subscribe()
	e.monitor.Start()
	e.refreshNetworkState()

	go e.worker()
	go e.periodicLoop()
	go e.transitionLoop(transitions)

	if e.cfg.SyncOnStartup {
		e.RequestSync()
	}

	log.Println("✅ Sync engine started")
	return nil
}

// Stop stops the engine and its monitor
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = false
	e.mu.Unlock()

	log.Println("🛑 Stopping sync engine...")
	close(e.stopChan)
	e.monitor.Stop()
	log.Println("✅ Sync engine stopped")
}

// RequestSync queues a sync pass without waiting for its result. Used by
// the periodic timer, network transitions and fire-and-forget callers; the
// worker coalesces bursts into single passes.
func (e *Engine) RequestSync() {
	select {
	case e.syncChan <- struct{}{}:
	default:
		// A request is already waiting; one pass covers both
	}
}

// State returns a copy of the current network state
func (e *Engine) State() NetworkState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Subscribe returns a channel receiving the NetworkState after every change,
// for UI connectivity indicators
func (e *Engine) Subscribe() <-chan NetworkState {
	ch := make(chan NetworkState, 8)
	e.mu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.mu.Unlock()
	return ch
}

// SyncAll runs one full sync pass: refresh contacts, drain the write queue
// oldest-first, reconcile messages, purge expired ones. At most one pass
// runs at a time; a call while one is in flight is a no-op that returns
// Skipped. Per-item delivery failures are recorded on the records and never
// stop the drain.
func (e *Engine) SyncAll(ctx context.Context) SyncResult {
	started := e.now()
	result := SyncResult{Timestamp: started}

	if !e.beginPass() {
		result.Skipped = true
		result.Success = true
		return result
	}
	ran := false
	defer func() { e.endPass(ran) }()

	if !e.monitor.IsOnline() {
		// Cheap re-probe catches silent reconnects between monitor ticks
		if !e.monitor.Probe() {
			result.Errors = append(result.Errors, "offline: skipping sync pass")
			result.Duration = e.now().Sub(started)
			return result
		}
	}
	ran = true

	log.Println("🔄 Sync pass starting")

	e.refreshContacts(ctx, &result)
	e.drainQueue(ctx, &result)
	e.refreshMessages(ctx, &result)

	result.Success = len(result.Errors) == 0 && result.ReportsFailed == 0
	result.Duration = e.now().Sub(started)
	log.Printf("✅ Sync pass done in %v: %d/%d reports delivered, contacts refreshed: %v, %d messages",
		result.Duration, result.ReportsDelivered, result.ReportsAttempted, result.ContactsRefreshed, result.MessagesFetched)
	return result
}

// refreshContacts replaces the reference cache with the server's records.
// On failure the existing cache is left untouched.
func (e *Engine) refreshContacts(ctx context.Context, result *SyncResult) {
	contacts, err := e.remote.FetchContacts(ctx)
	if err != nil {
		log.Printf("⚠️  Contact refresh failed, keeping stale cache: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("contacts: %v", err))
		return
	}
	if err := e.contacts.ReplaceAll(contacts); err != nil {
		log.Printf("⚠️  Contact cache replace failed: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("contacts: %v", err))
		return
	}
	result.ContactsRefreshed = true
}

// drainQueue attempts delivery of every queued and failed report, strictly
// sequentially in createdAt order so server-visible effects stay
// deterministic per device
func (e *Engine) drainQueue(ctx context.Context, result *SyncResult) {
	reports, err := e.queue.Drainable()
	if err != nil {
		log.Printf("⚠️  Cannot read write queue: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("queue: %v", err))
		return
	}

	for i := range reports {
		report := reports[i]
		result.ReportsAttempted++

		if err := e.queue.MarkSyncing(report.ID); err != nil {
			// Claimed by a competing transition or gone; skip, never abort
			log.Printf("⚠️  Skipping report %s: %v", report.ID, err)
			continue
		}

		if err := e.remote.SubmitReport(ctx, &report); err != nil {
			result.ReportsFailed++
			log.Printf("⚠️  Report %s delivery failed: %v", report.ID, err)
			if markErr := e.queue.MarkFailed(report.ID, err); markErr != nil {
				log.Printf("⚠️  Could not record failure for report %s: %v", report.ID, markErr)
			} else {
				e.notifyReport(report.ID, models.ReportStatusFailed)
			}
			continue
		}

		if err := e.queue.MarkSynced(report.ID); err != nil {
			log.Printf("⚠️  Could not mark report %s synced: %v", report.ID, err)
			continue
		}
		result.ReportsDelivered++
		e.notifyReport(report.ID, models.ReportStatusSynced)
		e.scheduleGraceDelete(report.ID)
	}
}

// refreshMessages reconciles the server's message list and ages out expired
// records
func (e *Engine) refreshMessages(ctx context.Context, result *SyncResult) {
	messages, err := e.remote.FetchMessages(ctx)
	if err != nil {
		log.Printf("⚠️  Message refresh failed, keeping stored messages: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("messages: %v", err))
		return
	}
	if err := e.messages.Reconcile(messages); err != nil {
		log.Printf("⚠️  Message reconcile failed: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("messages: %v", err))
		return
	}
	result.MessagesFetched = len(messages)

	purged, err := e.messages.PurgeOlderThan(e.cfg.RetentionDays)
	if err != nil {
		log.Printf("⚠️  Message purge failed: %v", err)
		return
	}
	result.MessagesPurged = purged
}

// scheduleGraceDelete removes a synced report after the grace period, so UI
// observers get a moment to show the success state
func (e *Engine) scheduleGraceDelete(id string) {
	time.AfterFunc(e.cfg.GracePeriod(), func() {
		if err := e.queue.Delete(id); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("⚠️  Grace deletion of report %s failed: %v", id, err)
		}
	})
}

// worker serializes all sync passes onto one goroutine
func (e *Engine) worker() {
	for {
		select {
		case <-e.syncChan:
			e.SyncAll(context.Background())
		case <-e.stopChan:
			return
		}
	}
}

// periodicLoop triggers a pass on a fixed interval regardless of transition
// events, to catch silent reconnects
func (e *Engine) periodicLoop() {
	ticker := time.NewTicker(e.cfg.SyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.RequestSync()
		case <-e.stopChan:
			return
		}
	}
}

// transitionLoop reacts to connectivity transitions from the monitor
func (e *Engine) transitionLoop(transitions <-chan bool) {
	for {
		select {
		case online := <-transitions:
			e.refreshNetworkState()
			if online {
				log.Println("📶 Back online, triggering sync pass")
				e.RequestSync()
			}
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) beginPass() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.SyncInProgress {
		return false
	}
	e.state.SyncInProgress = true
	e.publishLocked()
	return true
}

// endPass clears the in-progress flag; LastSync is only stamped for a pass
// that actually ran its steps, never for an offline bail-out
func (e *Engine) endPass(ran bool) {
	now := e.now()
	e.mu.Lock()
	e.state.SyncInProgress = false
	if ran {
		e.state.LastSync = &now
	}
	e.state.IsOnline = e.monitor.IsOnline()
	e.state.LastOnline = e.monitor.LastOnline()
	e.publishLocked()
	e.mu.Unlock()
}

func (e *Engine) notifyReport(id string, status models.ReportStatus) {
	if e.OnReportUpdate != nil {
		e.OnReportUpdate(id, status)
	}
}

func (e *Engine) refreshNetworkState() {
	e.mu.Lock()
	e.state.IsOnline = e.monitor.IsOnline()
	e.state.LastOnline = e.monitor.LastOnline()
	e.publishLocked()
	e.mu.Unlock()
}

// publishLocked fans the current state out to subscribers; callers hold e.mu
func (e *Engine) publishLocked() {
	for _, ch := range e.subscribers {
		select {
		case ch <- e.state:
		default:
		}
	}
}
