package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shiftwatch/fieldagent/internal/models"
	"github.com/shiftwatch/fieldagent/internal/store"
)

// CreateReport stores a new incident report draft. This is guaranteed-local:
// it succeeds with no connectivity at all, which is the whole point. Should
// local storage itself be down, the write degrades to a one-shot online
// submission instead of queuing.
func (rt *Router) CreateReport(w http.ResponseWriter, r *http.Request) {
	var payload models.ReportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "code": "bad_request"})
		return
	}
	if payload.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required", "code": "bad_request"})
		return
	}

	report, err := rt.reports.CreateDraft(payload)
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) && rt.submitter != nil {
			rt.submitDirect(w, r, payload)
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, report)
}

// submitDirect is the degraded write path: with storage down there is
// nothing durable to queue into, so the report is delivered to the server
// right now or not at all
func (rt *Router) submitDirect(w http.ResponseWriter, r *http.Request, payload models.ReportPayload) {
	report, err := models.NewQueuedReport(payload)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Printf("⚠️  Storage unavailable, submitting report %s directly", report.ID)
	if err := rt.submitter.SubmitReport(r.Context(), report); err != nil {
		writeError(w, err)
		return
	}

	report.Status = models.ReportStatusSynced
	writeJSON(w, http.StatusCreated, report)
}

// QueueReport moves a draft into the sync queue and nudges the orchestrator
func (rt *Router) QueueReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := rt.reports.QueueForSync(id); err != nil {
		writeError(w, err)
		return
	}

	// Eager delivery when the link happens to be up
	rt.engine.RequestSync()

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(models.ReportStatusQueued),
	})
}

// PendingReports lists drafts plus queued and failed reports for the UI
// pending badge
func (rt *Router) PendingReports(w http.ResponseWriter, r *http.Request) {
	reports, err := rt.reports.Pending()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(reports),
		"reports": reports,
	})
}
