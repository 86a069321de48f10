package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shiftwatch/fieldagent/internal/api"
	"github.com/shiftwatch/fieldagent/internal/buildinfo"
	"github.com/shiftwatch/fieldagent/internal/models"
	"github.com/shiftwatch/fieldagent/internal/push"
	"github.com/shiftwatch/fieldagent/internal/store"
	"github.com/shiftwatch/fieldagent/internal/syncer"
	"github.com/shiftwatch/fieldagent/internal/ws"
)

// The handler interfaces mirror exactly the operations the UI layer is
// allowed to call; orchestrator-only queue transitions are deliberately
// absent so manual and automatic retries cannot race.

// ReportService is the UI-facing slice of the durable write queue
type ReportService interface {
	CreateDraft(payload models.ReportPayload) (*models.QueuedReport, error)
	QueueForSync(id string) error
	Pending() ([]models.QueuedReport, error)
}

// ReportSubmitter delivers a report straight to the remote authority. Used
// only when local storage cannot hold a draft, so the write path degrades to
// online-only instead of failing outright. Satisfied by api.Client.
type ReportSubmitter interface {
	SubmitReport(ctx context.Context, report *models.QueuedReport) error
}

// ContactService is the read surface of the reference cache
type ContactService interface {
	GetAll() ([]models.EmergencyContact, error)
	GetDefault() (*models.EmergencyContact, error)
	Info() (models.CacheInfo, error)
}

// MessageService is the UI surface of the message store
type MessageService interface {
	GetAll() ([]models.StoredMessage, error)
	UnreadCount() (int64, error)
	MarkRead(id string) error
	MarkAllRead() error
}

// PushService is the subscription lifecycle surface
type PushService interface {
	Subscribe(ctx context.Context) (*models.PushSubscription, error)
	Unsubscribe(ctx context.Context) error
	Status() models.PushStatus
}

// SyncService is the orchestrator surface
type SyncService interface {
	State() syncer.NetworkState
	RequestSync()
	SyncAll(ctx context.Context) syncer.SyncResult
}

// Router bundles all HTTP handlers of the agent
type Router struct {
	*mux.Router

	reports   ReportService
	submitter ReportSubmitter
	contacts  ContactService
	messages  MessageService
	pushMgr   PushService
	engine    SyncService
	hub       *ws.Hub
}

// NewRouter creates the agent's HTTP surface
func NewRouter(reports ReportService, submitter ReportSubmitter, contacts ContactService, messages MessageService, pushMgr PushService, engine SyncService, hub *ws.Hub) *Router {
	rt := &Router{
		Router:    mux.NewRouter(),
		reports:   reports,
		submitter: submitter,
		contacts:  contacts,
		messages:  messages,
		pushMgr:   pushMgr,
		engine:    engine,
		hub:       hub,
	}

	rt.HandleFunc("/health", rt.Health).Methods("GET")

	rt.HandleFunc("/api/reports", rt.CreateReport).Methods("POST")
	rt.HandleFunc("/api/reports/pending", rt.PendingReports).Methods("GET")
	rt.HandleFunc("/api/reports/{id}/queue", rt.QueueReport).Methods("POST")

	rt.HandleFunc("/api/contacts", rt.GetContacts).Methods("GET")
	rt.HandleFunc("/api/contacts/default", rt.GetDefaultContact).Methods("GET")
	rt.HandleFunc("/api/contacts/info", rt.GetContactInfo).Methods("GET")

	rt.HandleFunc("/api/messages", rt.GetMessages).Methods("GET")
	rt.HandleFunc("/api/messages/unread-count", rt.GetUnreadCount).Methods("GET")
	rt.HandleFunc("/api/messages/read-all", rt.MarkAllMessagesRead).Methods("POST")
	rt.HandleFunc("/api/messages/{id}/read", rt.MarkMessageRead).Methods("POST")

	rt.HandleFunc("/api/push/subscribe", rt.SubscribePush).Methods("POST")
	rt.HandleFunc("/api/push/unsubscribe", rt.UnsubscribePush).Methods("POST")
	rt.HandleFunc("/api/push/status", rt.GetPushStatus).Methods("GET")

	rt.HandleFunc("/api/sync/status", rt.GetSyncStatus).Methods("GET")
	rt.HandleFunc("/api/sync/trigger", rt.TriggerSync).Methods("POST")

	if hub != nil {
		rt.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWs(hub, w, r)
		})
	}

	return rt
}

// Health answers liveness probes
func (rt *Router) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"started": buildinfo.StartTime,
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP statuses plus a stable code the
// UI uses to pick its user-facing message
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, store.ErrStorageUnavailable):
		status, code = http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, api.ErrNetworkUnreachable):
		status, code = http.StatusServiceUnavailable, "network_unreachable"
	case errors.Is(err, api.ErrRemoteRejected):
		status, code = http.StatusBadGateway, "remote_rejected"
	case errors.Is(err, api.ErrRemoteUnavailable):
		status, code = http.StatusBadGateway, "remote_unavailable"
	case errors.Is(err, push.ErrUnsupported):
		status, code = http.StatusNotImplemented, "push_unsupported"
	case errors.Is(err, push.ErrPermissionDenied):
		status, code = http.StatusForbidden, "push_permission_denied"
	case errors.Is(err, push.ErrKeyFetchFailed):
		status, code = http.StatusBadGateway, "push_key_fetch_failed"
	case errors.Is(err, push.ErrRegistrationFailed):
		status, code = http.StatusInternalServerError, "push_registration_failed"
	case errors.Is(err, push.ErrServerRegistrationFailed):
		status, code = http.StatusBadGateway, "push_server_registration_failed"
	case errors.Is(err, push.ErrNotSubscribed):
		status, code = http.StatusConflict, "push_not_subscribed"
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}
