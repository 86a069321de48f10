package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetMessages serves all stored messages, newest first
func (rt *Router) GetMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := rt.messages.GetAll()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(messages),
		"messages": messages,
	})
}

// GetUnreadCount serves the unread badge count
func (rt *Router) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := rt.messages.UnreadCount()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": count})
}

// MarkMessageRead marks one message as read
func (rt *Router) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := rt.messages.MarkRead(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "read"})
}

// MarkAllMessagesRead marks every unread message as read
func (rt *Router) MarkAllMessagesRead(w http.ResponseWriter, r *http.Request) {
	if err := rt.messages.MarkAllRead(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "all_read"})
}
