package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/mathdoc-back/internal/cache"
	"github.com/iago/mathdoc-back/internal/domain"
)

var ErrDocumentNotFound = errors.New("document not found")

// ArtifactReader is the read side of the artifact store.
type ArtifactReader interface {
	List(ctx context.Context, ownerID string) ([]string, error)
	Fetch(ctx context.Context, ownerID, fileName string) (string, error)
}

type DocumentsConfig struct {
	ResolveTimeout time.Duration
	Concurrency    int
	Logger         *log.Logger
	Now            func() time.Time
}

// DocumentService rebuilds a user's document list from remote artifacts and
// keeps the local mirror in step with the last successful listing.
type DocumentService struct {
	artifacts      ArtifactReader
	mirror         cache.Mirror
	resolveTimeout time.Duration
	concurrency    int
	logger         *log.Logger
	now            func() time.Time
}

func NewDocumentService(artifacts ArtifactReader, mirror cache.Mirror, config DocumentsConfig) *DocumentService {
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 30 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	if mirror == nil {
		mirror = cache.NewMemoryMirror()
	}
	return &DocumentService{
		artifacts:      artifacts,
		mirror:         mirror,
		resolveTimeout: config.ResolveTimeout,
		concurrency:    config.Concurrency,
		logger:         config.Logger,
		now:            config.Now,
	}
}

// ResolveAll returns the owner's documents. Unless forceRefresh is set, a
// non-empty mirror is returned without touching remote storage. A failed
// listing yields no documents and leaves the mirror as it was; artifacts
// that cannot be resolved in time are dropped.
func (s *DocumentService) ResolveAll(ctx context.Context, ownerID string, forceRefresh bool) ([]domain.DocumentRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}

	if !forceRefresh {
		cached := s.loadMirror(ctx, ownerID)
		if len(cached) > 0 {
			return cached, nil
		}
	}

	names, err := s.artifacts.List(ctx, ownerID)
	if err != nil {
		s.logf("document listing failed owner_id=%s err=%v", ownerID, err)
		return []domain.DocumentRecord{}, nil
	}
	if len(names) == 0 {
		s.clearMirror(ctx, ownerID)
		return []domain.DocumentRecord{}, nil
	}

	records := s.resolveNames(ctx, ownerID, names)
	if len(records) == 0 {
		s.logf("no documents resolved owner_id=%s listed=%d", ownerID, len(names))
		s.clearMirror(ctx, ownerID)
		return []domain.DocumentRecord{}, nil
	}

	if err := s.mirror.Replace(ctx, ownerID, records); err != nil {
		s.logf("mirror replace failed owner_id=%s err=%v", ownerID, err)
	}
	return records, nil
}

// Resolve finds a single document, falling back to the mirror when remote
// storage has nothing usable.
func (s *DocumentService) Resolve(ctx context.Context, ownerID, fileName string) (domain.DocumentRecord, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(fileName) == "" {
		return domain.DocumentRecord{}, fmt.Errorf("%w: owner id and file name are required", ErrInvalidInput)
	}
	if record, ok := s.resolveWithTimeout(ctx, ownerID, fileName); ok {
		return record, nil
	}
	for _, record := range s.loadMirror(ctx, ownerID) {
		if record.ID == fileName {
			return record, nil
		}
	}
	return domain.DocumentRecord{}, ErrDocumentNotFound
}

// Forget drops the owner's mirror, e.g. on sign-out.
func (s *DocumentService) Forget(ctx context.Context, ownerID string) error {
	return s.mirror.Clear(ctx, ownerID)
}

func (s *DocumentService) resolveNames(ctx context.Context, ownerID string, names []string) []domain.DocumentRecord {
	resolved := make([]*domain.DocumentRecord, len(names))

	var group errgroup.Group
	group.SetLimit(s.concurrency)
	for index, name := range names {
		group.Go(func() error {
			if record, ok := s.resolveWithTimeout(ctx, ownerID, name); ok {
				resolved[index] = &record
			}
			return nil
		})
	}
	_ = group.Wait()

	records := make([]domain.DocumentRecord, 0, len(names))
	for _, record := range resolved {
		if record != nil {
			records = append(records, *record)
		}
	}
	return records
}

type resolution struct {
	record domain.DocumentRecord
	ok     bool
}

// resolveWithTimeout races the candidate search against resolveTimeout.
// The search receives the deadline through its context, but a fetch that
// ignores it keeps running; its late result is dropped.
func (s *DocumentService) resolveWithTimeout(ctx context.Context, ownerID, fileName string) (domain.DocumentRecord, bool) {
	resolveCtx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
	defer cancel()

	results := make(chan resolution, 1)
	go func() {
		record, ok := s.resolveCandidates(resolveCtx, ownerID, fileName)
		results <- resolution{record: record, ok: ok}
	}()

	select {
	case result := <-results:
		return result.record, result.ok
	case <-resolveCtx.Done():
		s.logf("document resolve timed out owner_id=%s file=%s", ownerID, fileName)
		return domain.DocumentRecord{}, false
	}
}

func (s *DocumentService) resolveCandidates(ctx context.Context, ownerID, fileName string) (domain.DocumentRecord, bool) {
	for _, candidate := range domain.CandidateNames(fileName) {
		if ctx.Err() != nil {
			return domain.DocumentRecord{}, false
		}
		content, err := s.artifacts.Fetch(ctx, ownerID, candidate)
		if err != nil || strings.TrimSpace(content) == "" {
			continue
		}
		return domain.DocumentRecord{
			ID:        fileName,
			Title:     domain.DeriveTitle(fileName),
			Content:   content,
			Timestamp: s.now(),
		}, true
	}
	return domain.DocumentRecord{}, false
}

func (s *DocumentService) loadMirror(ctx context.Context, ownerID string) []domain.DocumentRecord {
	records, err := s.mirror.Load(ctx, ownerID)
	if err != nil {
		s.logf("mirror load failed owner_id=%s err=%v", ownerID, err)
		return []domain.DocumentRecord{}
	}
	return records
}

func (s *DocumentService) clearMirror(ctx context.Context, ownerID string) {
	if err := s.mirror.Clear(ctx, ownerID); err != nil {
		s.logf("mirror clear failed owner_id=%s err=%v", ownerID, err)
	}
}

func (s *DocumentService) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
