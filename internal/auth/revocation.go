package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Revocations remembers logged-out token ids until they would have expired anyway.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type RedisRevocations struct {
	client *redis.Client
}

func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

func revokedKey(tokenID string) string {
	return "session:revoked:" + tokenID
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKey(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return n > 0, nil
}

// MemoryRevocations is used for local runs without REDIS_ADDR and in tests.
type MemoryRevocations struct {
	mu      sync.Mutex
	until   map[string]time.Time
	nowFunc func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{until: make(map[string]time.Time), nowFunc: time.Now}
}

func (m *MemoryRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.until[tokenID] = until
	return nil
}

func (m *MemoryRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.until[tokenID]
	if !ok {
		return false, nil
	}
	if !m.nowFunc().Before(until) {
		delete(m.until, tokenID)
		return false, nil
	}
	return true, nil
}
