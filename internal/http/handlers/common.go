package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
	"github.com/iago/mathdoc-back/internal/http/middleware"
	"github.com/iago/mathdoc-back/internal/queue"
	"github.com/iago/mathdoc-back/internal/repository"
	"github.com/iago/mathdoc-back/internal/service"
	"github.com/iago/mathdoc-back/internal/session"
)

var errInvalidPayload = errors.New("invalid payload")

type Dependencies struct {
	Jobs      *service.JobsService
	Uploads   *service.UploadService
	Documents *service.DocumentService
	Exercises *service.ExerciseService
	Sessions  *session.Tracker
	Logger    *log.Logger
}

type API struct {
	jobs        *service.JobsService
	uploads     *service.UploadService
	documents   *service.DocumentService
	exercises   *service.ExerciseService
	sessions    *session.Tracker
	logger      *log.Logger
	idempotency *idempotencyStore
}

func NewAPI(deps Dependencies) *API {
	return &API{
		jobs:        deps.Jobs,
		uploads:     deps.Uploads,
		documents:   deps.Documents,
		exercises:   deps.Exercises,
		sessions:    deps.Sessions,
		logger:      deps.Logger,
		idempotency: newIdempotencyStore(24 * time.Hour),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// conversionStatus maps a failure kind to the response status. The body
// always carries the kind as the error code.
var conversionStatus = map[domain.ErrorKind]int{
	domain.KindInvalidCredentials: http.StatusBadGateway,
	domain.KindRateLimitExceeded:  http.StatusTooManyRequests,
	domain.KindFileTooLarge:       http.StatusRequestEntityTooLarge,
	domain.KindUnsupportedFormat:  http.StatusUnsupportedMediaType,
	domain.KindProcessingError:    http.StatusBadGateway,
	domain.KindEmptyResponse:      http.StatusBadGateway,
	domain.KindNetworkError:       http.StatusServiceUnavailable,
	domain.KindTimeout:            http.StatusGatewayTimeout,
	domain.KindLowConfidence:      http.StatusUnprocessableEntity,
	domain.KindNoMathDetected:     http.StatusUnprocessableEntity,
	domain.KindInvalidContent:     http.StatusUnprocessableEntity,
}

func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	if kind, ok := domain.KindOf(err); ok {
		status, known := conversionStatus[kind]
		if !known {
			status = http.StatusBadGateway
		}
		if kind == domain.KindRateLimitExceeded {
			w.Header().Set("Retry-After", "5")
		}
		writeError(w, r, status, string(kind), domain.MessageForKind(kind))
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": "))
	case errors.Is(err, service.ErrDocumentNotFound), errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, service.ErrGenerationFailed):
		writeError(w, r, http.StatusBadGateway, "generation_failed", "the generator returned no usable output")
	case errors.Is(err, queue.ErrQueueBackpressure):
		w.Header().Set("Retry-After", "2")
		writeError(w, r, http.StatusServiceUnavailable, "queue_full", "too many pending conversions, retry shortly")
	default:
		api.logf("request failed request_id=%s action=%s err=%v", middleware.GetRequestID(r.Context()), action, err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to "+action)
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return false
	}
	return true
}

func ownerFrom(w http.ResponseWriter, r *http.Request) (session.Identity, bool) {
	identity, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return session.Identity{}, false
	}
	return identity, true
}

func parseOptionalDateTime(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, errInvalidPayload
	}
	return &parsed, nil
}

func (api *API) logf(format string, args ...any) {
	if api.logger != nil {
		api.logger.Printf(format, args...)
	}
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

// idempotencyStore remembers accepted requests per key for ttl.
type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	ttl     time.Duration
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
		ttl:     ttl,
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok && time.Since(entry.CreatedAt) > s.ttl {
		delete(s.entries, key)
		return idempotencyEntry{}, false
	}
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       jobID,
		CreatedAt:   createdAt,
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
