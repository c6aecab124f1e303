// Package tiers maintains the in-memory projection of active reward rules,
// grouped into tiers by minimum transaction amount.
package tiers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/central-pay/rewards/internal/domain"
)

var (
	// ErrTierNotFound means no configured threshold is <= the transaction
	// amount, or the matched tier holds no eligible rules.
	ErrTierNotFound = errors.New("transaction amount does not fall into any configured reward tier")

	// ErrRefresh wraps storage failures during a snapshot rebuild. The
	// previous snapshot stays in place; lookups keep serving stale data.
	ErrRefresh = errors.New("failed to refresh reward tier cache")

	// ErrNotLoaded means no snapshot has ever been loaded successfully.
	ErrNotLoaded = errors.New("reward tier cache not loaded")
)

// RuleSource provides the active rule set for snapshot rebuilds.
type RuleSource interface {
	ListActiveRewardRules(ctx context.Context) ([]*domain.RewardRule, error)
}

// Cache serves the current active rule set with bounded staleness.
// Lookups read an immutable snapshot behind an atomic pointer, so a
// concurrent Refresh never exposes a half-written state.
type Cache struct {
	source   RuleSource
	compiler *conditionCompiler
	snap     atomic.Pointer[snapshot]
}

type snapshot struct {
	// thresholds is sorted ascending; byThreshold maps each threshold to
	// the rules forming that tier's option list.
	thresholds  []float64
	byThreshold map[float64][]*tierRule
	loadedAt    time.Time
}

// tierRule pairs a rule with its compiled eligibility condition, if any.
type tierRule struct {
	rule *domain.RewardRule
	eval conditionEval // nil when the rule has no condition
}

// New creates a tier cache. Call Refresh before serving lookups.
func New(source RuleSource) (*Cache, error) {
	compiler, err := newConditionCompiler()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition compiler: %w", err)
	}

	return &Cache{
		source:   source,
		compiler: compiler,
	}, nil
}

// Refresh loads all active rules, groups them by threshold and swaps the
// snapshot atomically. On failure the previous snapshot is left in place.
func (c *Cache) Refresh(ctx context.Context) error {
	rules, err := c.source.ListActiveRewardRules(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefresh, err)
	}

	byThreshold := make(map[float64][]*tierRule)
	for _, rule := range rules {
		tr := &tierRule{rule: rule}
		if rule.Condition != "" {
			eval, err := c.compiler.compile(rule.Condition)
			if err != nil {
				// A broken condition must not poison the snapshot.
				slog.Warn("skipping rule with invalid condition",
					"rule_id", rule.ID,
					"condition", rule.Condition,
					"error", err,
				)
				continue
			}
			tr.eval = eval
		}
		byThreshold[rule.MinTransactionAmount] = append(byThreshold[rule.MinTransactionAmount], tr)
	}

	thresholds := make([]float64, 0, len(byThreshold))
	for threshold := range byThreshold {
		thresholds = append(thresholds, threshold)
	}
	sort.Float64s(thresholds)

	c.snap.Store(&snapshot{
		thresholds:  thresholds,
		byThreshold: byThreshold,
		loadedAt:    time.Now().UTC(),
	})

	slog.Info("reward tier cache refreshed",
		"tiers", len(thresholds),
		"rules", len(rules),
	)

	return nil
}

// Lookup returns the option list for the greatest threshold <= amount,
// filtered by per-rule eligibility conditions.
func (c *Cache) Lookup(amount float64, userID string) ([]*domain.RewardRule, error) {
	snap := c.snap.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}

	// Greatest threshold <= amount: SearchFloat64s returns the first index
	// with thresholds[i] >= amount, so the floor entry sits one to the left
	// unless amount matched exactly.
	i := sort.SearchFloat64s(snap.thresholds, amount)
	if i == len(snap.thresholds) || snap.thresholds[i] != amount {
		i--
	}
	if i < 0 {
		return nil, ErrTierNotFound
	}

	tier := snap.byThreshold[snap.thresholds[i]]

	options := make([]*domain.RewardRule, 0, len(tier))
	for _, tr := range tier {
		if tr.eval != nil {
			eligible, err := tr.eval(amount, userID)
			if err != nil {
				slog.Warn("rule condition evaluation failed",
					"rule_id", tr.rule.ID,
					"error", err,
				)
				continue
			}
			if !eligible {
				continue
			}
		}
		options = append(options, tr.rule)
	}

	if len(options) == 0 {
		return nil, ErrTierNotFound
	}

	return options, nil
}

// ValidateCondition reports whether a condition expression compiles. Used by
// the administrative surface to reject bad rules before they are stored.
func (c *Cache) ValidateCondition(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := c.compiler.compile(expr)
	return err
}

// Loaded reports whether a snapshot is available.
func (c *Cache) Loaded() bool {
	return c.snap.Load() != nil
}

// TierCount returns the number of tiers in the current snapshot.
func (c *Cache) TierCount() int {
	snap := c.snap.Load()
	if snap == nil {
		return 0
	}
	return len(snap.thresholds)
}

// LoadedAt returns when the current snapshot was built.
func (c *Cache) LoadedAt() time.Time {
	snap := c.snap.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.loadedAt
}

// Start runs periodic refreshes until the context is cancelled. A failed
// periodic refresh is logged and retried on the next tick; lookups keep
// using the stale snapshot meanwhile.
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					slog.Error("periodic tier cache refresh failed", "error", err)
				}
			}
		}
	}()
}
