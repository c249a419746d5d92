package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iago/mathdoc-back/internal/domain"
)

// RedisMirror keeps each user's list as one JSON string value.
type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func (m *RedisMirror) Load(ctx context.Context, ownerID string) ([]domain.DocumentRecord, error) {
	payload, err := m.client.Get(ctx, MirrorKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []domain.DocumentRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mirror: %w", err)
	}
	return decodeRecords(payload)
}

func (m *RedisMirror) Replace(ctx context.Context, ownerID string, records []domain.DocumentRecord) error {
	payload, err := encodeRecords(records)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, MirrorKey(ownerID), payload, 0).Err(); err != nil {
		return fmt.Errorf("set mirror: %w", err)
	}
	return nil
}

func (m *RedisMirror) Clear(ctx context.Context, ownerID string) error {
	if err := m.client.Del(ctx, MirrorKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}
	return nil
}
