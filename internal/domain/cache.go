package domain

import (
	"context"
	"time"
)

// Cache defines the interface for read caching. Rewards are immutable except
// for claim and expiry transitions, which overwrite the cached entry with the
// new state, so short TTLs are safe here.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetReward retrieves a cached reward.
	GetReward(ctx context.Context, rewardID string) (*Reward, error)

	// SetReward caches a reward.
	SetReward(ctx context.Context, reward *Reward, ttl time.Duration) error

	// DeleteReward drops a cached reward.
	DeleteReward(ctx context.Context, rewardID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
