// Package rules provides the administrative surface for reward rule
// management. Every mutation refreshes the tier cache so lookups see the
// change without waiting for the periodic rebuild.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/central-pay/rewards/internal/domain"
	"github.com/central-pay/rewards/internal/repository"
	"github.com/central-pay/rewards/internal/tiers"
)

var (
	// ErrInvalidRule means the rule failed validation.
	ErrInvalidRule = errors.New("invalid reward rule")

	// ErrRuleNotFound means the rule id is unknown.
	ErrRuleNotFound = errors.New("reward rule not found")

	// ErrRuleExists means a create named an id that is already taken.
	ErrRuleExists = errors.New("reward rule already exists")
)

// Service manages reward rules.
type Service struct {
	repo  domain.Repository
	tiers *tiers.Cache
}

// NewService creates a rule management service.
func NewService(repo domain.Repository, tierCache *tiers.Cache) *Service {
	return &Service{repo: repo, tiers: tierCache}
}

// Create stores a new rule. An id is generated when absent; a caller-supplied
// id that is already taken is rejected rather than overwritten (updates go
// through Update).
func (s *Service) Create(ctx context.Context, rule *domain.RewardRule) (*domain.RewardRule, error) {
	if err := s.validate(rule); err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	} else {
		if _, err := s.repo.GetRewardRule(ctx, rule.ID); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to check rule id: %w", err)
		}
	}

	if err := s.repo.SaveRewardRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	s.refresh(ctx)
	return rule, nil
}

// BulkCreate stores a batch of rules atomically.
func (s *Service) BulkCreate(ctx context.Context, rules []*domain.RewardRule) ([]*domain.RewardRule, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: at least one rule is required", ErrInvalidRule)
	}
	for i, rule := range rules {
		if err := s.validate(rule); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
	}

	if err := s.repo.SaveRewardRules(ctx, rules); err != nil {
		return nil, fmt.Errorf("failed to save rules: %w", err)
	}

	s.refresh(ctx)
	return rules, nil
}

// Get retrieves a rule by id.
func (s *Service) Get(ctx context.Context, ruleID string) (*domain.RewardRule, error) {
	rule, err := s.repo.GetRewardRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
		}
		return nil, err
	}
	return rule, nil
}

// List retrieves all rules, active and inactive.
func (s *Service) List(ctx context.Context) ([]*domain.RewardRule, error) {
	return s.repo.ListRewardRules(ctx)
}

// ListByTier retrieves all rules in a named tier.
func (s *Service) ListByTier(ctx context.Context, tierName string) ([]*domain.RewardRule, error) {
	if tierName == "" {
		return nil, fmt.Errorf("%w: tierName is required", ErrInvalidRule)
	}
	return s.repo.ListRewardRulesByTier(ctx, tierName)
}

// Update replaces an existing rule. The id must already exist.
func (s *Service) Update(ctx context.Context, rule *domain.RewardRule) (*domain.RewardRule, error) {
	if rule == nil || rule.ID == "" {
		return nil, fmt.Errorf("%w: rule id is required", ErrInvalidRule)
	}
	if err := s.validate(rule); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetRewardRule(ctx, rule.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
		}
		return nil, err
	}
	rule.CreatedAt = existing.CreatedAt

	if err := s.repo.SaveRewardRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.refresh(ctx)
	return rule, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, ruleID string) error {
	if err := s.repo.DeleteRewardRule(ctx, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
		}
		return err
	}

	s.refresh(ctx)
	return nil
}

func (s *Service) validate(rule *domain.RewardRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidRule)
	}
	if rule.TierName == "" {
		return fmt.Errorf("%w: tierName is required", ErrInvalidRule)
	}
	if rule.RewardType == "" {
		return fmt.Errorf("%w: rewardType is required", ErrInvalidRule)
	}
	if rule.MinTransactionAmount < 0 {
		return fmt.Errorf("%w: minTransactionAmount must be non-negative", ErrInvalidRule)
	}
	if rule.Weight < 0 {
		return fmt.Errorf("%w: weight must be non-negative", ErrInvalidRule)
	}
	if s.tiers != nil {
		if err := s.tiers.ValidateCondition(rule.Condition); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}
	return nil
}

func (s *Service) refresh(ctx context.Context) {
	if s.tiers == nil {
		return
	}
	if err := s.tiers.Refresh(ctx); err != nil {
		slog.Error("failed to refresh tier cache after rule change", "error", err)
	}
}
