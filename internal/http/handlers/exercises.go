package handlers

import (
	"net/http"

	"github.com/iago/mathdoc-back/internal/service"
)

type exercisesRequest struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

type solutionRequest struct {
	Exercise string `json:"exercise"`
}

func (api *API) Exercises(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	identity, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var request exercisesRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	result, err := api.exercises.GenerateExercises(r.Context(), service.ExercisesInput{
		OwnerID:    identity.UserID,
		DocumentID: request.DocumentID,
		Content:    request.Content,
	})
	if err != nil {
		api.writeServiceError(w, r, err, "generate exercises")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) Solutions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := ownerFrom(w, r); !ok {
		return
	}

	var request solutionRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	result, err := api.exercises.SolveExercise(r.Context(), request.Exercise)
	if err != nil {
		api.writeServiceError(w, r, err, "solve exercise")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
