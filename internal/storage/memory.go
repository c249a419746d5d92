package storage

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	memoryObjectsPath = "/objects/"
	memoryURLTTL      = 15 * time.Minute
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryBackend keeps objects in process and serves them over HTTP under
// /objects/, so the read path still resolves a URL and fetches it. Used for
// local development and tests.
//
// The handler sits outside /v1 auth, so every URL it hands out carries a
// signed token bound to one key that expires after a short TTL, the same
// shape as a GCS or MinIO presigned link. Requests without a valid token
// are refused.
type MemoryBackend struct {
	mu         sync.RWMutex
	objects    map[string]memoryObject
	baseURL    string
	signingKey []byte
	urlTTL     time.Duration
	now        func() time.Time
}

func NewMemoryBackend(baseURL string) *MemoryBackend {
	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		panic(fmt.Sprintf("generate memory storage signing key: %v", err))
	}
	return &MemoryBackend{
		objects:    make(map[string]memoryObject),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		signingKey: signingKey,
		urlTTL:     memoryURLTTL,
		now:        time.Now,
	}
}

// SetBaseURL sets the public address the handler is mounted on.
func (b *MemoryBackend) SetBaseURL(baseURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.baseURL = strings.TrimSuffix(baseURL, "/")
}

func (b *MemoryBackend) Upload(_ context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (b *MemoryBackend) DownloadURL(_ context.Context, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.objects[key]; !ok {
		return "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}

	token, err := b.signKey(key)
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	location := url.URL{
		Path:     memoryObjectsPath + key,
		RawQuery: url.Values{"token": []string{token}}.Encode(),
	}
	return b.baseURL + location.RequestURI(), nil
}

func (b *MemoryBackend) signKey(key string) (string, error) {
	issuedAt := b.now()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(b.urlTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
}

// verifyKey reports whether token was issued by this backend for key and
// has not expired.
func (b *MemoryBackend) verifyKey(token, key string) bool {
	if token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return b.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(key),
		jwt.WithTimeFunc(b.now),
	)
	return err == nil && parsed.Valid
}

func (b *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0)
	for key := range b.objects {
		if name, ok := childName(key, prefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *MemoryBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, memoryObjectsPath)
	if !b.verifyKey(r.URL.Query().Get("token"), key) {
		http.Error(w, "invalid or expired object token", http.StatusForbidden)
		return
	}

	b.mu.RLock()
	object, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if object.contentType != "" {
		w.Header().Set("Content-Type", object.contentType)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(object.data)
	}
}
