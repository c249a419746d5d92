package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Documents lists the caller's converted documents. refresh=true bypasses
// the mirror and resolves every stored artifact again.
func (api *API) Documents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	identity, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	refresh := false
	if raw := strings.TrimSpace(r.URL.Query().Get("refresh")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "refresh must be a boolean")
			return
		}
		refresh = parsed
	}

	records, err := api.documents.ResolveAll(r.Context(), identity.UserID, refresh)
	if err != nil {
		api.writeServiceError(w, r, err, "list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": records})
}

func (api *API) Document(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	identity, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	fileName, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/v1/documents/"))
	fileName = strings.TrimSpace(fileName)
	if err != nil || fileName == "" || strings.Contains(fileName, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "a file name is required")
		return
	}

	record, err := api.documents.Resolve(r.Context(), identity.UserID, fileName)
	if err != nil {
		api.writeServiceError(w, r, err, "load document")
		return
	}
	writeJSON(w, http.StatusOK, record)
}
