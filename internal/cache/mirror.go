package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/iago/mathdoc-back/internal/domain"
)

const mirrorKeyPrefix = "user_documents"

// Mirror is the durable local copy of each user's resolved documents.
// Replace swaps the whole list in one write so readers never see a mix of
// old and new records.
type Mirror interface {
	Load(ctx context.Context, ownerID string) ([]domain.DocumentRecord, error)
	Replace(ctx context.Context, ownerID string, records []domain.DocumentRecord) error
	Clear(ctx context.Context, ownerID string) error
}

func MirrorKey(ownerID string) string {
	return mirrorKeyPrefix + ":" + strings.TrimSpace(ownerID)
}

func encodeRecords(records []domain.DocumentRecord) ([]byte, error) {
	if records == nil {
		records = []domain.DocumentRecord{}
	}
	encoded, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode mirror: %w", err)
	}
	return encoded, nil
}

func decodeRecords(payload []byte) ([]domain.DocumentRecord, error) {
	if len(payload) == 0 {
		return []domain.DocumentRecord{}, nil
	}
	records := make([]domain.DocumentRecord, 0)
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode mirror: %w", err)
	}
	return records, nil
}

// MemoryMirror stores the encoded list per key, the same bytes the Redis
// mirror would hold.
type MemoryMirror struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{entries: make(map[string][]byte)}
}

func (m *MemoryMirror) Load(_ context.Context, ownerID string) ([]domain.DocumentRecord, error) {
	m.mu.RLock()
	payload, ok := m.entries[MirrorKey(ownerID)]
	m.mu.RUnlock()
	if !ok {
		return []domain.DocumentRecord{}, nil
	}
	return decodeRecords(payload)
}

func (m *MemoryMirror) Replace(_ context.Context, ownerID string, records []domain.DocumentRecord) error {
	payload, err := encodeRecords(records)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[MirrorKey(ownerID)] = payload
	m.mu.Unlock()
	return nil
}

func (m *MemoryMirror) Clear(_ context.Context, ownerID string) error {
	m.mu.Lock()
	delete(m.entries, MirrorKey(ownerID))
	m.mu.Unlock()
	return nil
}
