package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const markupContentType = "text/markdown; charset=utf-8"

type ArtifactStoreConfig struct {
	HTTPClient   *http.Client
	FetchTimeout time.Duration
	MaxBytes     int64
}

// ArtifactStore keeps converted markup under users/{owner}/mmd/{name}.
// Reads resolve a download URL first and then fetch it over HTTP.
type ArtifactStore struct {
	backend      Backend
	httpClient   *http.Client
	fetchTimeout time.Duration
	maxBytes     int64
}

func NewArtifactStore(backend Backend, config ArtifactStoreConfig) *ArtifactStore {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 20 * time.Second
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 16 << 20
	}
	return &ArtifactStore{
		backend:      backend,
		httpClient:   config.HTTPClient,
		fetchTimeout: config.FetchTimeout,
		maxBytes:     config.MaxBytes,
	}
}

// Put overwrites any artifact already stored under the same name.
func (s *ArtifactStore) Put(ctx context.Context, ownerID, fileName, markup string) error {
	if err := validateNames(ownerID, fileName); err != nil {
		return err
	}
	if err := s.backend.Upload(ctx, ArtifactKey(ownerID, fileName), []byte(markup), markupContentType); err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

// List returns an owner's artifact names. An empty slice with a nil error
// means the owner has no documents.
func (s *ArtifactStore) List(ctx context.Context, ownerID string) ([]string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("owner id is required")
	}
	names, err := s.backend.List(ctx, ArtifactPrefix(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *ArtifactStore) Fetch(ctx context.Context, ownerID, fileName string) (string, error) {
	if err := validateNames(ownerID, fileName); err != nil {
		return "", err
	}
	downloadURL, err := s.backend.DownloadURL(ctx, ArtifactKey(ownerID, fileName))
	if err != nil {
		return "", fmt.Errorf("resolve artifact url: %w", err)
	}
	body, err := s.fetch(ctx, downloadURL)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PutSource stores an uploaded original and returns a URL the converter can
// download it from.
func (s *ArtifactStore) PutSource(ctx context.Context, ownerID, fileName string, data []byte, contentType string) (string, error) {
	if err := validateNames(ownerID, fileName); err != nil {
		return "", err
	}
	key := SourceKey(ownerID, fileName)
	if err := s.backend.Upload(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("put source: %w", err)
	}
	sourceURL, err := s.backend.DownloadURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve source url: %w", err)
	}
	return sourceURL, nil
}

func (s *ArtifactStore) fetch(ctx context.Context, downloadURL string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	httpResponse, err := s.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return nil, fmt.Errorf("fetch artifact: status %d", httpResponse.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("artifact exceeds %d bytes", s.maxBytes)
	}
	return body, nil
}

func validateNames(ownerID, fileName string) error {
	if strings.TrimSpace(ownerID) == "" {
		return errors.New("owner id is required")
	}
	if strings.TrimSpace(fileName) == "" || strings.Contains(fileName, "/") {
		return fmt.Errorf("invalid file name %q", fileName)
	}
	return nil
}
