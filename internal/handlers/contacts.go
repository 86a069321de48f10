package handlers

import "net/http"

// GetContacts serves the cached emergency contacts. Always local, never
// blocks on the network; an empty cache means the orchestrator has not had
// a successful refresh yet.
func (rt *Router) GetContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := rt.contacts.GetAll()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(contacts),
		"contacts": contacts,
	})
}

// GetDefaultContact serves the single default contact
func (rt *Router) GetDefaultContact(w http.ResponseWriter, r *http.Request) {
	contact, err := rt.contacts.GetDefault()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

// GetContactInfo serves cache freshness metadata for staleness indicators
func (rt *Router) GetContactInfo(w http.ResponseWriter, r *http.Request) {
	info, err := rt.contacts.Info()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
