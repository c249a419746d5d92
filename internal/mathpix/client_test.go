package mathpix

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
)

type recordingWriter struct {
	mu     sync.Mutex
	writes []string
}

func (w *recordingWriter) Put(_ context.Context, ownerID, fileName, markup string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, ownerID+"/"+fileName+"="+markup)
	return nil
}

func newTestClient(serverURL string, writer ArtifactWriter) *Client {
	return NewClient(ClientConfig{
		AppID:     "app",
		AppKey:    "secret",
		BaseURL:   serverURL,
		Timeout:   2 * time.Second,
		Artifacts: writer,
	})
}

func TestSubmitConversionSendsCredentialsAndReturnsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/pdf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("app_id") != "app" || r.Header.Get("app_key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"pdf_id":"job-1"}`))
	}))
	defer server.Close()

	job, err := newTestClient(server.URL, nil).SubmitConversion(context.Background(), "https://files/doc.pdf")
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if job.JobID != "job-1" || job.Status != domain.ConversionProcessing {
		t.Fatalf("expected accepted job-1, got %+v", job)
	}
}

func TestSubmitConversionWithoutIDKeepsRemoteDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"bad url","error_info":{"id":"http_download_error","message":"cannot fetch"}}`))
	}))
	defer server.Close()

	job, err := newTestClient(server.URL, nil).SubmitConversion(context.Background(), "https://files/missing.pdf")
	if err != nil {
		t.Fatalf("expected no transport error, got %v", err)
	}
	if job.JobID != "" || job.Detail != "http_download_error: cannot fetch" {
		t.Fatalf("expected unaccepted job with detail, got %+v", job)
	}
}

func TestStatusCodesMapToKinds(t *testing.T) {
	cases := map[int]domain.ErrorKind{
		http.StatusBadRequest:            domain.KindInvalidContent,
		http.StatusUnauthorized:          domain.KindInvalidCredentials,
		http.StatusForbidden:             domain.KindInvalidContent,
		http.StatusRequestEntityTooLarge: domain.KindFileTooLarge,
		http.StatusUnsupportedMediaType:  domain.KindUnsupportedFormat,
		http.StatusTooManyRequests:       domain.KindRateLimitExceeded,
		http.StatusInternalServerError:   domain.KindProcessingError,
		http.StatusBadGateway:            domain.KindProcessingError,
		http.StatusMultipleChoices:       domain.KindNetworkError,
	}
	for status, expected := range cases {
		status := status
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		client := newTestClient(server.URL, nil)

		_, submitErr := client.SubmitConversion(context.Background(), "https://files/doc.pdf")
		_, pollErr := client.PollStatus(context.Background(), "job-1")
		server.Close()

		for _, err := range []error{submitErr, pollErr} {
			kind, ok := domain.KindOf(err)
			if !ok || kind != expected {
				t.Fatalf("expected %s for status %d, got %v", expected, status, err)
			}
		}
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serverURL := server.URL
	server.Close()

	_, err := newTestClient(serverURL, nil).SubmitConversion(context.Background(), "https://files/doc.pdf")
	if kind, _ := domain.KindOf(err); kind != domain.KindNetworkError {
		t.Fatalf("expected network_error, got %v", err)
	}
}

func TestPollStatusMapsRemoteStates(t *testing.T) {
	states := map[string]domain.ConversionStatus{
		"received":  domain.ConversionProcessing,
		"split":     domain.ConversionProcessing,
		"completed": domain.ConversionCompleted,
		"error":     domain.ConversionErrored,
	}
	for remote, expected := range states {
		remote := remote
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/pdf/job-9" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"status":"` + remote + `","percent_done":50}`))
		}))
		progress, err := newTestClient(server.URL, nil).PollStatus(context.Background(), "job-9")
		server.Close()
		if err != nil {
			t.Fatalf("expected success for %s, got %v", remote, err)
		}
		if progress.Status != expected {
			t.Fatalf("expected %s for %s, got %s", expected, remote, progress.Status)
		}
	}
}

func TestPollStatusRejectsMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, nil).PollStatus(context.Background(), "job-1")
	if kind, _ := domain.KindOf(err); kind != domain.KindProcessingError {
		t.Fatalf("expected processing_error, got %v", err)
	}
}

func TestDownloadArtifactPersistsOnce(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/pdf/job-1.mmd" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("# Calc\n\n$x^2$\n"))
	}))
	defer server.Close()

	writer := &recordingWriter{}
	markup, err := newTestClient(server.URL, writer).DownloadArtifact(context.Background(), "job-1", "u1", "calc101.pdf.mmd")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if markup != "# Calc\n\n$x^2$\n" {
		t.Fatalf("expected raw markup, got %q", markup)
	}
	if len(writer.writes) != 1 || writer.writes[0] != "u1/calc101.pdf.mmd=# Calc\n\n$x^2$\n" {
		t.Fatalf("expected one raw write, got %v", writer.writes)
	}
}

func TestDownloadArtifactRejectsBlankMarkup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(" \n\t "))
	}))
	defer server.Close()

	writer := &recordingWriter{}
	_, err := newTestClient(server.URL, writer).DownloadArtifact(context.Background(), "job-1", "u1", "a.pdf.mmd")
	if kind, _ := domain.KindOf(err); kind != domain.KindEmptyResponse {
		t.Fatalf("expected empty_response, got %v", err)
	}
	if len(writer.writes) != 0 {
		t.Fatalf("expected no writes, got %v", writer.writes)
	}
}

func TestRecognizeImageValidatesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"text":"\\( x \\)","latex_styled":"x","confidence":0.93}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL, nil).RecognizeImage(context.Background(), "https://files/a.png")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !result.ConfidenceKnown || result.Confidence != 0.93 || result.Text != `\( x \)` {
		t.Fatalf("unexpected recognition %+v", result)
	}
}

func TestRecognizeImageRejectsOutOfRangeConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"text":"x","confidence":4}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, nil).RecognizeImage(context.Background(), "https://files/a.png")
	if kind, _ := domain.KindOf(err); kind != domain.KindProcessingError {
		t.Fatalf("expected processing_error, got %v", err)
	}
}
