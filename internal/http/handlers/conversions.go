package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
)

type conversionRequest struct {
	SourceURL string `json:"source_url"`
	FileName  string `json:"file_name"`
}

// Conversions accepts a remote document for asynchronous conversion.
func (api *API) Conversions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	identity, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idempotencyKey) < 16 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key header is required")
		return
	}

	var request conversionRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	request.SourceURL = strings.TrimSpace(request.SourceURL)
	request.FileName = strings.TrimSpace(request.FileName)
	if !strings.HasPrefix(request.SourceURL, "https://") && !strings.HasPrefix(request.SourceURL, "http://") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "source_url must be an http(s) url")
		return
	}

	scopedKey := identity.UserID + ":" + idempotencyKey
	payloadHash := hashPayload(request)
	if entry, exists := api.idempotency.Get(scopedKey); exists {
		if entry.PayloadHash != payloadHash {
			writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
			return
		}
		writeAccepted(w, entry.JobID, domain.JobStatusPending, entry.CreatedAt)
		return
	}

	job, err := api.jobs.EnqueueConversion(r.Context(), identity.UserID, request.FileName, request.SourceURL)
	if err != nil {
		api.writeServiceError(w, r, err, "enqueue conversion")
		return
	}
	api.idempotency.Put(scopedKey, payloadHash, job.ID, job.CreatedAt)
	writeAccepted(w, job.ID, job.Status, job.CreatedAt)
}

func writeAccepted(w http.ResponseWriter, jobID string, status domain.JobStatus, acceptedAt time.Time) {
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      jobID,
		"status":      status,
		"status_url":  "/v1/jobs/" + jobID,
		"accepted_at": acceptedAt.Format(time.RFC3339Nano),
	})
}
