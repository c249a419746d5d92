package mathpix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
)

// ArtifactWriter stores converted markup under the owner's canonical path.
type ArtifactWriter interface {
	Put(ctx context.Context, ownerID, fileName, markup string) error
}

type ClientConfig struct {
	AppID      string
	AppKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Artifacts  ArtifactWriter
}

// Client talks to the remote conversion service. It never loops or retries
// on its own; callers drive polling and retry.
type Client struct {
	appID      string
	appKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	artifacts  ArtifactWriter
}

func NewClient(config ClientConfig) *Client {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.mathpix.com/v3"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &Client{
		appID:      strings.TrimSpace(config.AppID),
		appKey:     strings.TrimSpace(config.AppKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
		artifacts:  config.Artifacts,
	}
}

func (c *Client) Available() bool {
	return c.appID != "" && c.appKey != ""
}

// SubmitConversion starts an async document conversion. A submission the
// service did not accept comes back with an empty JobID and the remote
// explanation in Detail.
func (c *Client) SubmitConversion(ctx context.Context, sourceURL string) (domain.ConversionJob, error) {
	job := domain.ConversionJob{SourceURL: sourceURL, Status: domain.ConversionSubmitted}

	body, err := c.call(ctx, http.MethodPost, "/pdf", submitRequest{
		URL:                   sourceURL,
		ConversionFormats:     map[string]bool{"md": true},
		MathInlineDelimiters:  []string{"$", "$"},
		MathDisplayDelimiters: []string{"$$", "$$"},
		RemoveSpaces:          true,
	})
	if err != nil {
		return job, err
	}

	var decoded submitResponse
	if err := decodeJSON(body, &decoded); err != nil {
		return job, err
	}
	if failure := decoded.failure(); failure != "" {
		job.Detail = failure
		return job, nil
	}
	job.JobID = strings.TrimSpace(decoded.PdfID)
	if job.JobID != "" {
		job.Status = domain.ConversionProcessing
	}
	return job, nil
}

// JobProgress is one validated poll observation.
type JobProgress struct {
	Status      domain.ConversionStatus
	PercentDone float64
	Detail      string
}

func (c *Client) PollStatus(ctx context.Context, jobID string) (JobProgress, error) {
	if strings.TrimSpace(jobID) == "" {
		return JobProgress{}, domain.NewConversionError(domain.KindInvalidContent, "job id is required")
	}
	body, err := c.call(ctx, http.MethodGet, "/pdf/"+url.PathEscape(jobID), nil)
	if err != nil {
		return JobProgress{}, err
	}

	var decoded statusResponse
	if err := decodeJSON(body, &decoded); err != nil {
		return JobProgress{}, err
	}
	return decoded.progress()
}

// DownloadArtifact fetches the converted markup of a completed job and
// writes it once to the owner's canonical path.
func (c *Client) DownloadArtifact(ctx context.Context, jobID, ownerID, fileName string) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", domain.NewConversionError(domain.KindInvalidContent, "job id is required")
	}
	body, err := c.call(ctx, http.MethodGet, "/pdf/"+url.PathEscape(jobID)+".mmd", nil)
	if err != nil {
		return "", err
	}

	markup := string(body)
	if strings.TrimSpace(markup) == "" {
		return "", domain.NewConversionError(domain.KindEmptyResponse, "job %s produced no markup", jobID)
	}
	if err := c.PersistArtifact(ctx, ownerID, fileName, markup); err != nil {
		return "", err
	}
	return markup, nil
}

// Recognition is the validated result of synchronous image recognition.
// Failure is set when the service answered 2xx but reported an error.
type Recognition struct {
	Text            string
	LatexStyled     string
	Confidence      float64
	ConfidenceKnown bool
	Failure         string
}

func (c *Client) RecognizeImage(ctx context.Context, imageURL string) (Recognition, error) {
	body, err := c.call(ctx, http.MethodPost, "/text", textRequest{
		Source:  imageURL,
		Formats: []string{"text", "latex_styled"},
	})
	if err != nil {
		return Recognition{}, err
	}

	var decoded textResponse
	if err := decodeJSON(body, &decoded); err != nil {
		return Recognition{}, err
	}
	return decoded.recognition()
}

// PersistArtifact is the single writer of the canonical markup path.
func (c *Client) PersistArtifact(ctx context.Context, ownerID, fileName, markup string) error {
	if c.artifacts == nil {
		return domain.NewConversionError(domain.KindProcessingError, "artifact store is not configured")
	}
	if err := c.artifacts.Put(ctx, ownerID, fileName, markup); err != nil {
		return &domain.ConversionError{
			Kind:    domain.KindProcessingError,
			Message: fmt.Sprintf("persist artifact %s", fileName),
			Cause:   err,
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &domain.ConversionError{Kind: domain.KindProcessingError, Message: "marshal request", Cause: err}
		}
		reader = bytes.NewReader(encoded)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &domain.ConversionError{Kind: domain.KindProcessingError, Message: "create request", Cause: err}
	}
	httpRequest.Header.Set("app_id", c.appID)
	httpRequest.Header.Set("app_key", c.appKey)
	httpRequest.Header.Set("Accept", "application/json")
	if payload != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		message := "transport error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			message = "request timed out"
		}
		return nil, &domain.ConversionError{Kind: domain.KindNetworkError, Message: message, Cause: err}
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, &domain.ConversionError{Kind: domain.KindNetworkError, Message: "read response body", Cause: err}
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 700 {
			detail = detail[:700]
		}
		return nil, &domain.ConversionError{
			Kind:    KindForStatus(httpResponse.StatusCode),
			Message: fmt.Sprintf("%s %s returned status %d", method, path, httpResponse.StatusCode),
			Detail:  detail,
		}
	}
	return body, nil
}

// KindForStatus maps a non-2xx HTTP status to an error kind.
func KindForStatus(statusCode int) domain.ErrorKind {
	switch {
	case statusCode == http.StatusUnauthorized:
		return domain.KindInvalidCredentials
	case statusCode == http.StatusRequestEntityTooLarge:
		return domain.KindFileTooLarge
	case statusCode == http.StatusUnsupportedMediaType:
		return domain.KindUnsupportedFormat
	case statusCode == http.StatusTooManyRequests:
		return domain.KindRateLimitExceeded
	case statusCode >= 500 && statusCode <= 599:
		return domain.KindProcessingError
	case statusCode >= 400 && statusCode <= 499:
		return domain.KindInvalidContent
	default:
		return domain.KindNetworkError
	}
}

func decodeJSON(body []byte, target any) error {
	if err := json.Unmarshal(body, target); err != nil {
		return &domain.ConversionError{
			Kind:    domain.KindProcessingError,
			Message: "decode remote response",
			Cause:   err,
		}
	}
	return nil
}
