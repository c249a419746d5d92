package handlers

import "net/http"

// Logout ends the caller's session, which drops their document mirror.
func (api *API) Logout(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	identity, ok := ownerFrom(w, r)
	if !ok {
		return
	}
	if api.sessions != nil {
		api.sessions.End(r.Context(), identity)
	}
	w.WriteHeader(http.StatusNoContent)
}
