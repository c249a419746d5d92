package storage

import (
	"context"
	"errors"
	"net/http/httptest"
	"reflect"
	"testing"
)

func newMemoryStore(t *testing.T) (*ArtifactStore, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend("")
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)
	backend.SetBaseURL(server.URL)
	return NewArtifactStore(backend, ArtifactStoreConfig{}), backend
}

func TestArtifactStorePutThenFetch(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "u1", "calc101.pdf.mmd", "$x^2$"); err != nil {
		t.Fatalf("expected put success, got %v", err)
	}
	content, err := store.Fetch(ctx, "u1", "calc101.pdf.mmd")
	if err != nil {
		t.Fatalf("expected fetch success, got %v", err)
	}
	if content != "$x^2$" {
		t.Fatalf("expected stored markup, got %q", content)
	}
}

func TestArtifactStoreListIsPerOwnerAndDirectChildrenOnly(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	_ = store.Put(ctx, "u1", "b.mmd", "b")
	_ = store.Put(ctx, "u1", "a.pdf.mmd", "a")
	_ = store.Put(ctx, "u2", "other.mmd", "x")
	_ = backend.Upload(ctx, ArtifactPrefix("u1")+"nested/deep.mmd", []byte("deep"), "text/plain")
	if _, err := store.PutSource(ctx, "u1", "a.pdf", []byte("%PDF"), "application/pdf"); err != nil {
		t.Fatalf("expected source upload, got %v", err)
	}

	names, err := store.List(ctx, "u1")
	if err != nil {
		t.Fatalf("expected list success, got %v", err)
	}
	if !reflect.DeepEqual(names, []string{"a.pdf.mmd", "b.mmd"}) {
		t.Fatalf("unexpected listing %v", names)
	}
}

func TestArtifactStoreEmptyListingIsNotAnError(t *testing.T) {
	store, _ := newMemoryStore(t)
	names, err := store.List(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Fatalf("expected empty non-nil listing, got %#v", names)
	}
}

func TestArtifactStoreFetchMissing(t *testing.T) {
	store, _ := newMemoryStore(t)
	_, err := store.Fetch(context.Background(), "u1", "missing.mmd")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestArtifactStorePutOverwrites(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	_ = store.Put(ctx, "u1", "a.mmd", "first")
	_ = store.Put(ctx, "u1", "a.mmd", "second")

	content, err := store.Fetch(ctx, "u1", "a.mmd")
	if err != nil || content != "second" {
		t.Fatalf("expected overwritten markup, got %q err=%v", content, err)
	}
}

func TestArtifactStoreRejectsPathNames(t *testing.T) {
	store, _ := newMemoryStore(t)
	if err := store.Put(context.Background(), "u1", "../escape.mmd", "x"); err == nil {
		t.Fatalf("expected invalid name error")
	}
}
