package syncer

import (
	"context"
	"time"

	"github.com/shiftwatch/fieldagent/internal/models"
)

// NetworkState is the process-wide connectivity snapshot. It is owned by the
// Engine, fed by the network monitor, and never persisted across restarts.
type NetworkState struct {
	IsOnline       bool       `json:"isOnline"`
	LastOnline     *time.Time `json:"lastOnline,omitempty"`
	SyncInProgress bool       `json:"syncInProgress"`
	LastSync       *time.Time `json:"lastSync,omitempty"`
}

// SyncResult summarizes one sync pass for callers that want a completion
// signal. Per-item failures are recorded on the queue records themselves;
// the summary only carries counts and top-level notes.
type SyncResult struct {
	Success           bool          `json:"success"`
	Skipped           bool          `json:"skipped"` // another pass was already running
	ReportsAttempted  int           `json:"reportsAttempted"`
	ReportsDelivered  int           `json:"reportsDelivered"`
	ReportsFailed     int           `json:"reportsFailed"`
	ContactsRefreshed bool          `json:"contactsRefreshed"`
	MessagesFetched   int           `json:"messagesFetched"`
	MessagesPurged    int64         `json:"messagesPurged"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration"`
	Timestamp         time.Time     `json:"timestamp"`
}

// ReportQueue is the slice of the durable write queue the orchestrator
// drives. Satisfied by store.ReportQueue.
type ReportQueue interface {
	Drainable() ([]models.QueuedReport, error)
	MarkSyncing(id string) error
	MarkSynced(id string) error
	MarkFailed(id string, cause error) error
	Delete(id string) error
	RecoverInterrupted() (int, error)
}

// ContactCache is the refresh surface of the reference cache. Satisfied by
// store.ContactCache.
type ContactCache interface {
	ReplaceAll(contacts []models.EmergencyContact) error
}

// MessageStore is the reconcile surface of the message store. Satisfied by
// store.MessageStore.
type MessageStore interface {
	Reconcile(incoming []models.IncomingMessage) error
	PurgeOlderThan(days int) (int64, error)
}

// RemoteAPI is the server boundary the orchestrator syncs against.
// Satisfied by api.Client.
type RemoteAPI interface {
	Health(ctx context.Context) error
	FetchContacts(ctx context.Context) ([]models.EmergencyContact, error)
	SubmitReport(ctx context.Context, report *models.QueuedReport) error
	FetchMessages(ctx context.Context) ([]models.IncomingMessage, error)
}
