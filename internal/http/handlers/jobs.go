package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
)

type jobResponse struct {
	JobID        string           `json:"job_id"`
	Status       domain.JobStatus `json:"status"`
	FileName     string           `json:"file_name"`
	ArtifactName string           `json:"artifact_name,omitempty"`
	Attempts     int              `json:"attempts"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Error        *jobError        `json:"error,omitempty"`
}

type jobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newJobResponse(job domain.Job) jobResponse {
	response := jobResponse{
		JobID:        job.ID,
		Status:       job.Status,
		FileName:     job.FileName,
		ArtifactName: job.ArtifactName,
		Attempts:     job.Attempts,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if job.Status == domain.JobStatusFailed {
		kind := job.ErrorKind
		if !kind.Valid() {
			kind = domain.KindProcessingError
		}
		message := strings.TrimSpace(job.ErrorMessage)
		if message == "" {
			message = domain.MessageForKind(kind)
		}
		response.Error = &jobError{Code: string(kind), Message: message}
	}
	return response
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	identity, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/jobs/"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "load job")
		return
	}
	// Other owners' jobs are reported as missing.
	if job.OwnerID != identity.UserID {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(*job))
}

// ListJobs supports status, from, to, page and page_size query filters.
func (api *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	identity, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := domain.JobListFilter{
		OwnerID: identity.UserID,
		Status:  domain.JobStatus(strings.TrimSpace(query.Get("status"))),
	}
	switch filter.Status {
	case "", domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusDone, domain.JobStatusFailed:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_request", "status must be pending, processing, done or failed")
		return
	}

	var err error
	if filter.From, err = parseOptionalDateTime(query.Get("from")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
		return
	}
	if filter.To, err = parseOptionalDateTime(query.Get("to")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
		return
	}
	filter.Page, _ = strconv.Atoi(query.Get("page"))
	filter.PageSize, _ = strconv.Atoi(query.Get("page_size"))

	jobs, total, err := api.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err, "list jobs")
		return
	}
	items := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, newJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}
