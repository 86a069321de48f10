package handlers

import (
	"errors"
	"net/http"

	"github.com/shiftwatch/fieldagent/internal/push"
)

// SubscribePush walks the push subscription flow. Partial success (platform
// subscribed, server registration failed) still returns the descriptor so
// the UI can offer a retry instead of a dead end.
func (rt *Router) SubscribePush(w http.ResponseWriter, r *http.Request) {
	sub, err := rt.pushMgr.Subscribe(r.Context())
	if err != nil {
		if errors.Is(err, push.ErrServerRegistrationFailed) && sub != nil {
			writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"subscription": sub,
				"warning":      err.Error(),
				"code":         "push_server_registration_failed",
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// UnsubscribePush tears the subscription down
func (rt *Router) UnsubscribePush(w http.ResponseWriter, r *http.Request) {
	if err := rt.pushMgr.Unsubscribe(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

// GetPushStatus serves the live subscription state
func (rt *Router) GetPushStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.pushMgr.Status())
}
