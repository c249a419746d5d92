package service

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/mathdoc-back/internal/cache"
	"github.com/iago/mathdoc-back/internal/domain"
	"github.com/iago/mathdoc-back/internal/storage"
)

type fakeArtifacts struct {
	names   []string
	listErr error
	content map[string]string
	block   map[string]chan struct{}

	listCalls  int32
	fetchCalls int32
	mu         sync.Mutex
	fetched    []string
}

func (f *fakeArtifacts) List(_ context.Context, _ string) ([]string, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.names...), nil
}

func (f *fakeArtifacts) Fetch(_ context.Context, _ string, fileName string) (string, error) {
	atomic.AddInt32(&f.fetchCalls, 1)
	f.mu.Lock()
	f.fetched = append(f.fetched, fileName)
	f.mu.Unlock()
	if gate, ok := f.block[fileName]; ok {
		<-gate
	}
	content, ok := f.content[fileName]
	if !ok {
		return "", storage.ErrObjectNotFound
	}
	return content, nil
}

func (f *fakeArtifacts) remoteCalls() int32 {
	return atomic.LoadInt32(&f.listCalls) + atomic.LoadInt32(&f.fetchCalls)
}

var fixedNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newTestDocumentService(artifacts ArtifactReader, mirror cache.Mirror, timeout time.Duration) *DocumentService {
	return NewDocumentService(artifacts, mirror, DocumentsConfig{
		ResolveTimeout: timeout,
		Now:            func() time.Time { return fixedNow },
	})
}

func TestResolveAllResolvesAndOverwritesMirror(t *testing.T) {
	artifacts := &fakeArtifacts{
		names:   []string{"calc101.pdf.mmd"},
		content: map[string]string{"calc101.pdf.mmd": "$x^2$"},
	}
	mirror := cache.NewMemoryMirror()
	_ = mirror.Replace(context.Background(), "u1", []domain.DocumentRecord{{ID: "stale.mmd", Content: "old"}})
	service := newTestDocumentService(artifacts, mirror, time.Second)

	records, err := service.ResolveAll(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	expected := domain.DocumentRecord{ID: "calc101.pdf.mmd", Title: "calc101.pdf", Content: "$x^2$", Timestamp: fixedNow}
	if len(records) != 1 || records[0] != expected {
		t.Fatalf("expected %+v, got %+v", expected, records)
	}

	mirrored, _ := mirror.Load(context.Background(), "u1")
	if len(mirrored) != 1 || mirrored[0].ID != expected.ID || mirrored[0].Title != expected.Title ||
		mirrored[0].Content != expected.Content || !mirrored[0].Timestamp.Equal(fixedNow) {
		t.Fatalf("expected mirror overwritten with %+v, got %+v", expected, mirrored)
	}
}

func TestResolveAllEmptyListingClearsMirror(t *testing.T) {
	mirror := cache.NewMemoryMirror()
	_ = mirror.Replace(context.Background(), "u1", []domain.DocumentRecord{{ID: "a.mmd", Content: "a"}})
	service := newTestDocumentService(&fakeArtifacts{}, mirror, time.Second)

	records, err := service.ResolveAll(context.Background(), "u1", true)
	if err != nil || len(records) != 0 {
		t.Fatalf("expected empty result, got %+v err=%v", records, err)
	}
	if mirrored, _ := mirror.Load(context.Background(), "u1"); len(mirrored) != 0 {
		t.Fatalf("expected cleared mirror, got %+v", mirrored)
	}
}

func TestResolveAllServesMirrorWithoutRemoteCalls(t *testing.T) {
	mirror := cache.NewMemoryMirror()
	_ = mirror.Replace(context.Background(), "u1", []domain.DocumentRecord{
		{ID: "a.mmd", Title: "a", Content: "$a$"},
		{ID: "b.mmd", Title: "b", Content: "$b$"},
	})
	artifacts := &fakeArtifacts{names: []string{"c.mmd"}, content: map[string]string{"c.mmd": "c"}}
	service := newTestDocumentService(artifacts, mirror, time.Second)

	records, err := service.ResolveAll(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(records) != 2 || records[0].ID != "a.mmd" || records[1].ID != "b.mmd" {
		t.Fatalf("expected mirrored records, got %+v", records)
	}
	if calls := artifacts.remoteCalls(); calls != 0 {
		t.Fatalf("expected zero remote calls, got %d", calls)
	}
}

func TestResolveAllListingFailureLeavesMirrorUntouched(t *testing.T) {
	mirror := cache.NewMemoryMirror()
	previous := []domain.DocumentRecord{{ID: "a.mmd", Title: "a", Content: "$a$"}}
	_ = mirror.Replace(context.Background(), "u1", previous)
	service := newTestDocumentService(&fakeArtifacts{listErr: errors.New("unreachable")}, mirror, time.Second)

	records, err := service.ResolveAll(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil records, got %+v", records)
	}
	if mirrored, _ := mirror.Load(context.Background(), "u1"); len(mirrored) != 1 || mirrored[0].ID != "a.mmd" {
		t.Fatalf("expected mirror untouched, got %+v", mirrored)
	}
}

func TestResolveAllNothingResolvesClearsMirror(t *testing.T) {
	mirror := cache.NewMemoryMirror()
	_ = mirror.Replace(context.Background(), "u1", []domain.DocumentRecord{{ID: "old.mmd", Content: "old"}})
	artifacts := &fakeArtifacts{
		names:   []string{"a.mmd", "b.pdf.mmd"},
		content: map[string]string{"a.mmd": "   "},
	}
	service := newTestDocumentService(artifacts, mirror, time.Second)

	records, _ := service.ResolveAll(context.Background(), "u1", true)
	if len(records) != 0 {
		t.Fatalf("expected no records, got %+v", records)
	}
	if mirrored, _ := mirror.Load(context.Background(), "u1"); len(mirrored) != 0 {
		t.Fatalf("expected cleared mirror, got %+v", mirrored)
	}
}

func TestResolveAllTriesLegacyCandidatesInOrder(t *testing.T) {
	artifacts := &fakeArtifacts{
		names:   []string{"calc101.pdf.mmd"},
		content: map[string]string{"calc101.pdf": "$legacy$"},
	}
	service := newTestDocumentService(artifacts, cache.NewMemoryMirror(), time.Second)

	records, _ := service.ResolveAll(context.Background(), "u1", true)
	if len(records) != 1 || records[0].Content != "$legacy$" || records[0].ID != "calc101.pdf.mmd" {
		t.Fatalf("expected legacy content under listed id, got %+v", records)
	}
	expectedOrder := []string{"calc101.pdf.mmd", "calc101.mmd", "calc101.pdf"}
	if len(artifacts.fetched) != len(expectedOrder) {
		t.Fatalf("expected fetch order %v, got %v", expectedOrder, artifacts.fetched)
	}
	for index := range expectedOrder {
		if artifacts.fetched[index] != expectedOrder[index] {
			t.Fatalf("expected fetch order %v, got %v", expectedOrder, artifacts.fetched)
		}
	}
}

func TestResolveAllDropsTimedOutArtifacts(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	artifacts := &fakeArtifacts{
		names:   []string{"fast.mmd", "slow.mmd"},
		content: map[string]string{"fast.mmd": "$f$", "slow.mmd": "$s$"},
		block:   map[string]chan struct{}{"slow.mmd": gate},
	}
	service := newTestDocumentService(artifacts, cache.NewMemoryMirror(), 50*time.Millisecond)

	records, _ := service.ResolveAll(context.Background(), "u1", true)
	if len(records) != 1 || records[0].ID != "fast.mmd" {
		t.Fatalf("expected only the fast document, got %+v", records)
	}
}

func TestResolveAllRoundTripThroughArtifactStore(t *testing.T) {
	backend := storage.NewMemoryBackend("")
	server := httptest.NewServer(backend)
	defer server.Close()
	backend.SetBaseURL(server.URL)
	store := storage.NewArtifactStore(backend, storage.ArtifactStoreConfig{})

	markup := "# Limits\n\n$$\\lim_{x \\to 0} \\frac{\\sin x}{x} = 1$$"
	if err := store.Put(context.Background(), "u1", "limits.pdf.mmd", markup); err != nil {
		t.Fatalf("expected put success, got %v", err)
	}

	service := newTestDocumentService(store, cache.NewMemoryMirror(), time.Second)
	record, err := service.Resolve(context.Background(), "u1", "limits.pdf.mmd")
	if err != nil {
		t.Fatalf("expected resolve success, got %v", err)
	}
	if record.Content != markup {
		t.Fatalf("expected round-tripped markup, got %q", record.Content)
	}

	records, _ := service.ResolveAll(context.Background(), "u1", true)
	if len(records) != 1 || records[0].Content != markup {
		t.Fatalf("expected one round-tripped record, got %+v", records)
	}
}

func TestResolveFallsBackToMirror(t *testing.T) {
	mirror := cache.NewMemoryMirror()
	_ = mirror.Replace(context.Background(), "u1", []domain.DocumentRecord{{ID: "a.mmd", Content: "$a$"}})
	service := newTestDocumentService(&fakeArtifacts{}, mirror, time.Second)

	record, err := service.Resolve(context.Background(), "u1", "a.mmd")
	if err != nil || record.Content != "$a$" {
		t.Fatalf("expected mirrored record, got %+v err=%v", record, err)
	}
	if _, err := service.Resolve(context.Background(), "u1", "missing.mmd"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}
