package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iago/mathdoc-back/internal/ai"
	"github.com/iago/mathdoc-back/internal/cache"
	httpserver "github.com/iago/mathdoc-back/internal/http"
	"github.com/iago/mathdoc-back/internal/http/handlers"
	"github.com/iago/mathdoc-back/internal/mathpix"
	"github.com/iago/mathdoc-back/internal/queue"
	"github.com/iago/mathdoc-back/internal/repository"
	"github.com/iago/mathdoc-back/internal/retry"
	"github.com/iago/mathdoc-back/internal/service"
	"github.com/iago/mathdoc-back/internal/session"
	"github.com/iago/mathdoc-back/internal/storage"
	"github.com/iago/mathdoc-back/internal/worker"
)

const devToken = "local-dev-token"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type stubGenerator struct{}

func (stubGenerator) Available() bool { return true }

func (stubGenerator) Generate(_ context.Context, request ai.GenerateRequest) (ai.GenerateResult, error) {
	return ai.GenerateResult{
		Text:    `{"exercises":[{"number":"1","statement":"Solve $x^2 = 4$","topic":"algebra","difficulty":"easy"}]}`,
		ModelID: request.Model,
	}, nil
}

// newFakeConverter answers the remote conversion endpoints. Image sources
// whose URL mentions "blurry" come back with a low confidence score.
func newFakeConverter(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Source string `json:"src"`
		}
		_ = json.NewDecoder(r.Body).Decode(&request)
		if strings.Contains(request.Source, "blurry") {
			_, _ = io.WriteString(w, `{"text":"??","confidence":0.2}`)
			return
		}
		_, _ = io.WriteString(w, `{"text":"Solve \\( x^2 = 4 \\)","confidence":0.97}`)
	})
	mux.HandleFunc("/pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"pdf_id":"job-1"}`)
	})
	mux.HandleFunc("/pdf/job-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"completed","percent_done":100}`)
	})
	mux.HandleFunc("/pdf/job-1.mmd", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# Geometry\n\n\\[ a^2 + b^2 = c^2 \\]\n")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type testRuntime struct {
	server *httptest.Server
	client *http.Client
}

func startRuntime(t *testing.T) testRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)
	converter := newFakeConverter(t)

	backend := storage.NewMemoryBackend("")
	artifacts := storage.NewArtifactStore(backend, storage.ArtifactStoreConfig{})
	remote := mathpix.NewClient(mathpix.ClientConfig{
		AppID:     "app",
		AppKey:    "key",
		BaseURL:   converter.URL,
		Artifacts: artifacts,
	})
	noWait := func(context.Context, time.Duration) error { return nil }
	conversions := service.NewConversionService(remote, service.ConversionConfig{
		Retry:        retry.Policy{MaxAttempts: 2, Sleep: noWait},
		PollInterval: time.Millisecond,
		PollAttempts: 3,
		Sleep:        noWait,
		Logger:       logger,
	})
	documents := service.NewDocumentService(artifacts, cache.NewMemoryMirror(), service.DocumentsConfig{Logger: logger})

	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(64, 2, logger)
	jobs := service.NewJobsService(repo, localQueue)
	uploads := service.NewUploadService(artifacts, jobs, service.UploadConfig{Logger: logger})
	exercises, err := service.NewExerciseService(service.ExerciseDependencies{
		Client:    stubGenerator{},
		Documents: documents,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("build exercise service: %v", err)
	}

	sessions := session.NewTracker(time.Hour)
	sessions.Subscribe(func(ctx context.Context, event session.Event) {
		if event.Kind == session.SignedOut {
			_ = documents.Forget(ctx, event.Identity.UserID)
		}
	})

	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API: handlers.NewAPI(handlers.Dependencies{
			Jobs:      jobs,
			Uploads:   uploads,
			Documents: documents,
			Exercises: exercises,
			Sessions:  sessions,
			Logger:    logger,
		}),
		Logger:         logger,
		DevToken:       devToken,
		Sessions:       sessions,
		RateLimitRPS:   10000,
		RateLimitBurst: 10000,
		Objects:        backend,
	})

	server := httptest.NewServer(router)
	backend.SetBaseURL(server.URL)

	processor := worker.NewProcessor(localQueue, repo, conversions, documents, logger)
	go processor.Start(ctx)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return testRuntime{server: server, client: server.Client()}
}

func (rt testRuntime) do(t *testing.T, request *http.Request, userID string) (int, map[string]any) {
	t.Helper()
	request.Header.Set("Authorization", "Bearer "+devToken)
	request.Header.Set("X-User-Id", userID)

	response, err := rt.client.Do(request)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}
	return response.StatusCode, decoded
}

func (rt testRuntime) get(t *testing.T, path, userID string) (int, map[string]any) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, rt.server.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return rt.do(t, request, userID)
}

func (rt testRuntime) postJSON(t *testing.T, path, userID string, payload any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, rt.server.URL+path, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	return rt.do(t, request, userID)
}

func (rt testRuntime) upload(t *testing.T, userID, fileName string, data []byte) (int, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(data)
	_ = writer.Close()

	request, err := http.NewRequest(http.MethodPost, rt.server.URL+"/v1/uploads", &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return rt.do(t, request, userID)
}

func (rt testRuntime) waitForJob(t *testing.T, userID, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, body := rt.get(t, "/v1/jobs/"+jobID, userID)
		if status == http.StatusOK {
			if state, _ := body["status"].(string); state == "done" || state == "failed" {
				return body
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for job %s", jobID)
	return nil
}

func TestUploadConvertsImageAndListsDocument(t *testing.T) {
	rt := startRuntime(t)

	status, accepted := rt.upload(t, "alice", "board.png", pngHeader)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 from upload, got %d body=%+v", status, accepted)
	}
	jobID, _ := accepted["job_id"].(string)
	if jobID == "" || accepted["status_url"] != "/v1/jobs/"+jobID {
		t.Fatalf("unexpected accepted body %+v", accepted)
	}

	job := rt.waitForJob(t, "alice", jobID)
	if job["status"] != "done" || job["artifact_name"] != "board.png.mmd" {
		t.Fatalf("expected finished job, got %+v", job)
	}

	status, listed := rt.get(t, "/v1/documents", "alice")
	if status != http.StatusOK {
		t.Fatalf("expected 200 from documents, got %d", status)
	}
	documents, _ := listed["documents"].([]any)
	if len(documents) != 1 {
		t.Fatalf("expected one document, got %+v", listed)
	}
	document := documents[0].(map[string]any)
	if document["id"] != "board.png.mmd" || document["title"] != "board.png" {
		t.Fatalf("unexpected document %+v", document)
	}
	if content, _ := document["content"].(string); !strings.Contains(content, "$ x^2 = 4 $") {
		t.Fatalf("expected normalized math delimiters, got %q", content)
	}

	status, single := rt.get(t, "/v1/documents/board.png", "alice")
	if status != http.StatusOK || single["id"] != "board.png" || single["content"] != document["content"] {
		t.Fatalf("expected legacy name to resolve, got %d %+v", status, single)
	}

	raw, err := rt.client.Get(rt.server.URL + "/objects/users/alice/mmd/board.png.mmd")
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusForbidden {
		t.Fatalf("expected unsigned object read to be refused, got %d", raw.StatusCode)
	}

	status, generated := rt.postJSON(t, "/v1/exercises", "alice", map[string]any{"document_id": "board.png.mmd"}, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from exercises, got %d body=%+v", status, generated)
	}
	if items, _ := generated["exercises"].([]any); len(items) != 1 {
		t.Fatalf("expected one exercise, got %+v", generated)
	}

	status, _ = rt.get(t, "/v1/jobs/"+jobID, "mallory")
	if status != http.StatusNotFound {
		t.Fatalf("expected other owners to get 404, got %d", status)
	}
	status, others := rt.get(t, "/v1/documents?refresh=true", "mallory")
	if status != http.StatusOK {
		t.Fatalf("expected 200 for empty owner, got %d", status)
	}
	if items, _ := others["documents"].([]any); len(items) != 0 {
		t.Fatalf("expected no documents for another owner, got %+v", others)
	}
}

func TestLowConfidenceImageFailsJobWithKind(t *testing.T) {
	rt := startRuntime(t)

	status, accepted := rt.upload(t, "alice", "blurry.png", pngHeader)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 from upload, got %d", status)
	}
	job := rt.waitForJob(t, "alice", accepted["job_id"].(string))
	if job["status"] != "failed" {
		t.Fatalf("expected failed job, got %+v", job)
	}
	failure, _ := job["error"].(map[string]any)
	if failure["code"] != "low_confidence" {
		t.Fatalf("expected low_confidence, got %+v", job)
	}
}

func TestRemoteConversionIsIdempotent(t *testing.T) {
	rt := startRuntime(t)
	payload := map[string]any{"source_url": "https://files.example/notes.pdf", "file_name": "notes.pdf"}
	headers := map[string]string{"Idempotency-Key": "conversion-notes-0001"}

	status, first := rt.postJSON(t, "/v1/conversions", "alice", payload, headers)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%+v", status, first)
	}
	status, second := rt.postJSON(t, "/v1/conversions", "alice", payload, headers)
	if status != http.StatusAccepted || second["job_id"] != first["job_id"] {
		t.Fatalf("expected replay of %v, got %d %+v", first["job_id"], status, second)
	}

	payload["file_name"] = "other.pdf"
	status, conflict := rt.postJSON(t, "/v1/conversions", "alice", payload, headers)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on payload change, got %d %+v", status, conflict)
	}

	job := rt.waitForJob(t, "alice", first["job_id"].(string))
	if job["status"] != "done" || job["artifact_name"] != "notes.pdf.mmd" {
		t.Fatalf("expected finished pdf job, got %+v", job)
	}
	status, listed := rt.get(t, fmt.Sprintf("/v1/jobs?status=%s", "done"), "alice")
	if status != http.StatusOK || listed["total"] != float64(1) {
		t.Fatalf("expected one finished job listed, got %d %+v", status, listed)
	}
}

func TestUploadRejectsMismatchedContent(t *testing.T) {
	rt := startRuntime(t)

	status, body := rt.upload(t, "alice", "notes.pdf", pngHeader)
	if status != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d body=%+v", status, body)
	}
	failure, _ := body["error"].(map[string]any)
	if failure["code"] != "unsupported_format" {
		t.Fatalf("expected unsupported_format code, got %+v", body)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	rt := startRuntime(t)

	response, err := rt.client.Get(rt.server.URL + "/v1/documents")
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.StatusCode)
	}

	health, err := rt.client.Get(rt.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", health.StatusCode)
	}
}
