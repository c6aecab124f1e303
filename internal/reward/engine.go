// Package reward implements the reward determination and claim lifecycle.
// A completed transaction is mapped to a tier, one rule is drawn by weight,
// and the materialized reward moves through UNCLAIMED, CLAIMED or EXPIRED.
package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/central-pay/rewards/internal/domain"
	"github.com/central-pay/rewards/internal/repository"
	"github.com/central-pay/rewards/internal/selector"
	"github.com/central-pay/rewards/internal/tiers"
)

var (
	// ErrDuplicateTransaction means the transaction already produced a reward.
	ErrDuplicateTransaction = errors.New("transaction has already been rewarded")

	// ErrNoApplicableTier means no tier threshold covers the amount.
	ErrNoApplicableTier = errors.New("no reward tier applies to transaction")

	// ErrMisconfiguredTier means the matched tier held no selectable rules.
	ErrMisconfiguredTier = errors.New("reward tier has no selectable rules")

	// ErrRewardNotFound means the reward id is unknown.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrRewardExpired means the reward lapsed before it was claimed.
	ErrRewardExpired = errors.New("reward has expired")

	// ErrAlreadyClaimed means the reward was claimed earlier.
	ErrAlreadyClaimed = errors.New("reward has already been claimed")

	// ErrInvalidInput means the request failed validation.
	ErrInvalidInput = errors.New("invalid input")
)

// rewardCacheTTL bounds staleness of the reward read cache. Claim and
// expiry transitions rewrite the entry, so this only limits drift from
// out-of-band writes.
const rewardCacheTTL = 5 * time.Minute

// Engine coordinates tier lookup, weighted selection, persistence and
// event publication for each transaction.
type Engine struct {
	repo  domain.Repository
	tiers *tiers.Cache
	cache domain.Cache
	bus   domain.EventBus
	rng   selector.Source

	// now is swappable in tests.
	now func() time.Time
}

// New creates an engine. The cache and bus may be nil; both are
// best-effort side channels.
func New(repo domain.Repository, tierCache *tiers.Cache, cache domain.Cache, bus domain.EventBus) *Engine {
	return &Engine{
		repo:  repo,
		tiers: tierCache,
		cache: cache,
		bus:   bus,
		rng:   &lockedSource{src: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// lockedSource makes a rand source safe for concurrent draws from the
// HTTP handlers and the async worker.
type lockedSource struct {
	mu  sync.Mutex
	src selector.Source
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.IntN(n)
}

// Process determines and persists a reward for a completed transaction.
// Each transaction id yields at most one reward.
func (e *Engine) Process(ctx context.Context, event *domain.TransactionEvent) (*domain.Reward, error) {
	if event == nil || event.TransactionID == "" {
		return nil, fmt.Errorf("%w: transactionId is required", ErrInvalidInput)
	}
	if event.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if event.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", ErrInvalidInput)
	}

	ctx, span := otel.Tracer("reward-engine").Start(ctx, "reward.process",
		trace.WithAttributes(
			attribute.String("transaction.id", event.TransactionID),
			attribute.Float64("transaction.amount", event.Amount),
		))
	defer span.End()

	// Fast-path idempotency check. The unique index on transaction_id
	// catches the race where two workers pass this check together.
	exists, err := e.repo.RewardExistsForTransaction(ctx, event.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check transaction: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, event.TransactionID)
	}

	options, err := e.tiers.Lookup(event.Amount, event.UserID)
	if err != nil {
		if errors.Is(err, tiers.ErrTierNotFound) || errors.Is(err, tiers.ErrNotLoaded) {
			return nil, fmt.Errorf("%w: amount %.2f", ErrNoApplicableTier, event.Amount)
		}
		return nil, fmt.Errorf("failed to resolve reward tier: %w", err)
	}

	rule, err := selector.Choose(options, e.rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfiguredTier, err)
	}

	now := e.now()
	reward := &domain.Reward{
		RewardID:          uuid.New().String(),
		UserID:            event.UserID,
		TransactionID:     event.TransactionID,
		TransactionAmount: event.Amount,
		RewardRuleID:      rule.ID,
		RewardType:        rule.RewardType,
		RewardDescription: rule.Description,
		RewardValue:       rule.Value(),
		RedeemCode:        newRedeemCode(),
		Status:            domain.StatusUnclaimed,
		CreatedAt:         now,
		ExpiresAt:         now.Add(domain.RewardValidity),
	}

	if err := e.repo.CreateReward(ctx, reward); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, event.TransactionID)
		}
		return nil, fmt.Errorf("failed to persist reward: %w", err)
	}

	span.SetAttributes(
		attribute.String("reward.id", reward.RewardID),
		attribute.String("reward.type", reward.RewardType),
	)

	e.cacheReward(ctx, reward)
	e.publishAwarded(ctx, reward)

	slog.Info("reward determined",
		"reward_id", reward.RewardID,
		"transaction_id", reward.TransactionID,
		"user_id", reward.UserID,
		"reward_type", reward.RewardType,
		"reward_value", reward.RewardValue,
	)

	return reward, nil
}

// GetReward retrieves a reward, lazily expiring it if its validity window
// has lapsed while it was still unclaimed.
func (e *Engine) GetReward(ctx context.Context, rewardID string) (*domain.Reward, error) {
	if rewardID == "" {
		return nil, fmt.Errorf("%w: rewardId is required", ErrInvalidInput)
	}

	if e.cache != nil {
		if cached, err := e.cache.GetReward(ctx, rewardID); err == nil && cached != nil {
			if cached.Status != domain.StatusUnclaimed || e.now().Before(cached.ExpiresAt) {
				return cached, nil
			}
			// Stale UNCLAIMED entry past expiry; fall through to storage.
		}
	}

	reward, err := e.repo.GetReward(ctx, rewardID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRewardNotFound, rewardID)
		}
		return nil, err
	}

	if e.lazyExpire(ctx, reward) {
		return reward, nil
	}

	e.cacheReward(ctx, reward)
	return reward, nil
}

// Claim transitions an unclaimed reward to CLAIMED. Exactly one concurrent
// claim wins; every other caller learns the terminal state.
func (e *Engine) Claim(ctx context.Context, rewardID string) (*domain.ClaimResponse, error) {
	ctx, span := otel.Tracer("reward-engine").Start(ctx, "reward.claim",
		trace.WithAttributes(attribute.String("reward.id", rewardID)))
	defer span.End()

	if rewardID == "" {
		return nil, fmt.Errorf("%w: rewardId is required", ErrInvalidInput)
	}

	reward, err := e.repo.GetReward(ctx, rewardID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRewardNotFound, rewardID)
		}
		return nil, err
	}

	switch reward.Status {
	case domain.StatusClaimed:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, rewardID)
	case domain.StatusExpired:
		return nil, fmt.Errorf("%w: %s", ErrRewardExpired, rewardID)
	}

	if e.lazyExpire(ctx, reward) {
		return nil, fmt.Errorf("%w: %s", ErrRewardExpired, rewardID)
	}

	// Rows written before codes existed get one at claim time.
	if reward.RedeemCode == "" {
		reward.RedeemCode = newRedeemCode()
	}

	claimedAt := e.now()
	won, err := e.repo.ClaimReward(ctx, rewardID, reward.RedeemCode, claimedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to claim reward: %w", err)
	}
	if !won {
		// Lost the race; the winner already moved the reward.
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, rewardID)
	}

	reward.Status = domain.StatusClaimed
	reward.ClaimedAt = &claimedAt
	e.cacheReward(ctx, reward)

	slog.Info("reward claimed",
		"reward_id", reward.RewardID,
		"user_id", reward.UserID,
		"claimed_at", claimedAt,
	)

	return &domain.ClaimResponse{
		RewardStatus: domain.StatusClaimed,
		RedeemCode:   reward.RedeemCode,
		ExpiresAt:    reward.ExpiresAt,
	}, nil
}

// ListUserRewards retrieves a page of a user's rewards, most recent first.
// Lapsed unclaimed rewards in the page are expired on the way out.
func (e *Engine) ListUserRewards(ctx context.Context, userID string, page, size int) ([]*domain.Reward, error) {
	rewards, err := e.repo.ListUserRewards(ctx, userID, page, size)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}

	for _, reward := range rewards {
		e.lazyExpire(ctx, reward)
	}

	return rewards, nil
}

// lazyExpire flips a lapsed unclaimed reward to EXPIRED in place and in
// storage. Reports whether the reward is now expired.
func (e *Engine) lazyExpire(ctx context.Context, reward *domain.Reward) bool {
	if reward.Status != domain.StatusUnclaimed || e.now().Before(reward.ExpiresAt) {
		return reward.Status == domain.StatusExpired
	}

	if err := e.repo.MarkRewardExpired(ctx, reward.RewardID); err != nil {
		slog.Warn("failed to mark reward expired", "reward_id", reward.RewardID, "error", err)
	}
	reward.Status = domain.StatusExpired
	e.cacheReward(ctx, reward)
	return true
}

func (e *Engine) cacheReward(ctx context.Context, reward *domain.Reward) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetReward(ctx, reward, rewardCacheTTL); err != nil {
		slog.Warn("failed to cache reward", "reward_id", reward.RewardID, "error", err)
	}
}

// publishAwarded emits the reward.awarded event. Publication is
// best-effort: the reward is already durable when this runs.
func (e *Engine) publishAwarded(ctx context.Context, reward *domain.Reward) {
	if e.bus == nil {
		return
	}

	event := &domain.RewardEvent{
		RewardID:          reward.RewardID,
		TransactionID:     reward.TransactionID,
		UserID:            reward.UserID,
		RewardType:        reward.RewardType,
		RewardValue:       reward.RewardValue,
		RewardDescription: reward.RewardDescription,
		TransactionAmount: reward.TransactionAmount,
		CreatedAt:         reward.CreatedAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode reward event", "reward_id", reward.RewardID, "error", err)
		return
	}

	if err := e.bus.Publish(ctx, domain.TopicRewardAwarded, payload); err != nil {
		slog.Error("failed to publish reward event",
			"reward_id", reward.RewardID,
			"topic", domain.TopicRewardAwarded,
			"error", err,
		)
	}
}

// newRedeemCode builds an opaque redemption code. Assigned at creation so
// the claim transition only flips state.
func newRedeemCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "RWD-" + strings.ToUpper(raw[:12])
}
