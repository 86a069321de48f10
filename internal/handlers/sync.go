package handlers

import "net/http"

// GetSyncStatus serves the orchestrator's network state snapshot
func (rt *Router) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.engine.State())
}

// TriggerSync asks for a sync pass. With ?wait=true the pass runs inline
// and the full result is returned; otherwise the request is queued and the
// caller gets an immediate ack.
func (rt *Router) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "true" {
		result := rt.engine.SyncAll(r.Context())
		writeJSON(w, http.StatusOK, result)
		return
	}

	rt.engine.RequestSync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync_requested"})
}
