package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Reward rule operations
	SaveRewardRule(ctx context.Context, rule *RewardRule) error
	SaveRewardRules(ctx context.Context, rules []*RewardRule) error
	GetRewardRule(ctx context.Context, ruleID string) (*RewardRule, error)
	ListRewardRules(ctx context.Context) ([]*RewardRule, error)
	ListActiveRewardRules(ctx context.Context) ([]*RewardRule, error)
	ListRewardRulesByTier(ctx context.Context, tierName string) ([]*RewardRule, error)
	DeleteRewardRule(ctx context.Context, ruleID string) error
	CountRewardRules(ctx context.Context) (int64, error)

	// Reward operations
	CreateReward(ctx context.Context, reward *Reward) error
	GetReward(ctx context.Context, rewardID string) (*Reward, error)
	RewardExistsForTransaction(ctx context.Context, transactionID string) (bool, error)
	ListUserRewards(ctx context.Context, userID string, page, size int) ([]*Reward, error)

	// ClaimReward atomically transitions a reward from UNCLAIMED to CLAIMED.
	// Returns false when the reward was not in UNCLAIMED state, so a losing
	// concurrent claimant never observes a double transition.
	ClaimReward(ctx context.Context, rewardID, redeemCode string, claimedAt time.Time) (bool, error)

	// MarkRewardExpired flips a reward to EXPIRED unless it is already claimed.
	MarkRewardExpired(ctx context.Context, rewardID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
