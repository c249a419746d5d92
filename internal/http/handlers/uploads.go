package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/iago/mathdoc-back/internal/domain"
)

const multipartOverhead = 1 << 20

// Uploads stores a multipart "file" part and queues its conversion.
func (api *API) Uploads(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	identity, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	maxBytes := api.uploads.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, string(domain.KindFileTooLarge), domain.MessageForKind(domain.KindFileTooLarge))
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "failed to read upload")
		return
	}

	job, err := api.uploads.Upload(r.Context(), identity.UserID, header.Filename, data)
	if err != nil {
		api.writeServiceError(w, r, err, "accept upload")
		return
	}
	writeAccepted(w, job.ID, job.Status, job.CreatedAt)
}
