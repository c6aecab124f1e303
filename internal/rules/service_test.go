package rules

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/central-pay/rewards/internal/domain"
	"github.com/central-pay/rewards/internal/repository"
	"github.com/central-pay/rewards/internal/tiers"
)

func newTestService(t *testing.T) (*Service, domain.Repository, *tiers.Cache) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rules_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	tierCache, err := tiers.New(repo)
	if err != nil {
		t.Fatalf("failed to create tier cache: %v", err)
	}
	if err := tierCache.Refresh(context.Background()); err != nil {
		t.Fatalf("failed to refresh tiers: %v", err)
	}

	return NewService(repo, tierCache), repo, tierCache
}

func validRule() *domain.RewardRule {
	value := 10.0
	return &domain.RewardRule{
		TierName:             "TIER_1",
		MinTransactionAmount: 0,
		RewardType:           "CASHBACK",
		Description:          "10 Cashback",
		RewardValue:          &value,
		Weight:               5,
		Active:               true,
	}
}

func TestCreateAssignsIDAndRefreshesTiers(t *testing.T) {
	svc, _, tierCache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validRule())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated rule id")
	}

	// The tier cache sees the new rule without a periodic refresh.
	options, err := tierCache.Lookup(50, "user-1")
	if err != nil {
		t.Fatalf("Lookup after create failed: %v", err)
	}
	if len(options) != 1 || options[0].ID != created.ID {
		t.Errorf("tier cache not refreshed after create")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*domain.RewardRule)
	}{
		{"missing tier name", func(r *domain.RewardRule) { r.TierName = "" }},
		{"missing reward type", func(r *domain.RewardRule) { r.RewardType = "" }},
		{"negative threshold", func(r *domain.RewardRule) { r.MinTransactionAmount = -1 }},
		{"negative weight", func(r *domain.RewardRule) { r.Weight = -1 }},
		{"bad condition", func(r *domain.RewardRule) { r.Condition = "amount +" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			if _, err := svc.Create(ctx, rule); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}

func TestBulkCreate(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	rules := []*domain.RewardRule{validRule(), validRule(), validRule()}
	created, err := svc.BulkCreate(ctx, rules)
	if err != nil {
		t.Fatalf("BulkCreate failed: %v", err)
	}
	for _, rule := range created {
		if rule.ID == "" {
			t.Error("expected generated id for bulk rule")
		}
	}

	count, err := repo.CountRewardRules(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 rules, got %d", count)
	}
}

func TestBulkCreateRejectsInvalidBatch(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	bad := validRule()
	bad.TierName = ""
	if _, err := svc.BulkCreate(ctx, []*domain.RewardRule{validRule(), bad}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}

	count, err := repo.CountRewardRules(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("invalid batch must not persist anything, got %d rules", count)
	}
}

func TestUpdate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validRule())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	created.Description = "Updated"
	created.Weight = 42
	updated, err := svc.Update(ctx, created)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.CreatedAt.IsZero() {
		t.Error("update should preserve creation timestamp")
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != "Updated" || got.Weight != 42 {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestUpdateUnknownRule(t *testing.T) {
	svc, _, _ := newTestService(t)

	rule := validRule()
	rule.ID = "missing"
	if _, err := svc.Update(context.Background(), rule); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestDeleteRefreshesTiers(t *testing.T) {
	svc, _, tierCache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validRule())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound after delete, got %v", err)
	}
	if _, err := tierCache.Lookup(50, "user-1"); !errors.Is(err, tiers.ErrTierNotFound) {
		t.Errorf("tier cache should be empty after delete, got %v", err)
	}

	if err := svc.Delete(ctx, created.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound for repeat delete, got %v", err)
	}
}

func TestListByTier(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	other := validRule()
	other.TierName = "TIER_2"
	other.MinTransactionAmount = 100
	if _, err := svc.BulkCreate(ctx, []*domain.RewardRule{validRule(), validRule(), other}); err != nil {
		t.Fatalf("BulkCreate failed: %v", err)
	}

	tier1, err := svc.ListByTier(ctx, "TIER_1")
	if err != nil {
		t.Fatalf("ListByTier failed: %v", err)
	}
	if len(tier1) != 2 {
		t.Errorf("expected 2 TIER_1 rules, got %d", len(tier1))
	}

	if _, err := svc.ListByTier(ctx, ""); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("expected ErrInvalidRule for empty tier, got %v", err)
	}
}

func TestSeed(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	if err := Seed(ctx, repo); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	count, err := repo.CountRewardRules(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 49 {
		t.Errorf("expected 49 seeded rules, got %d", count)
	}

	// Seeding again is a no-op.
	if err := Seed(ctx, repo); err != nil {
		t.Fatalf("repeat Seed failed: %v", err)
	}
	again, _ := repo.CountRewardRules(ctx)
	if again != count {
		t.Errorf("repeat seed changed rule count: %d -> %d", count, again)
	}

	// All six tiers present.
	for _, tier := range []string{"TIER_1", "TIER_2", "TIER_3", "TIER_4", "TIER_5", "TIER_6"} {
		rules, err := svc.ListByTier(ctx, tier)
		if err != nil {
			t.Fatalf("ListByTier(%s) failed: %v", tier, err)
		}
		if len(rules) == 0 {
			t.Errorf("no seeded rules in %s", tier)
		}
	}
}

func TestCreateRejectsTakenID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rule := validRule()
	rule.ID = "rule-fixed"
	if _, err := svc.Create(ctx, rule); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	again := validRule()
	again.ID = "rule-fixed"
	if _, err := svc.Create(ctx, again); !errors.Is(err, ErrRuleExists) {
		t.Fatalf("expected ErrRuleExists for taken id, got %v", err)
	}

	// A fresh id is still fine.
	if _, err := svc.Create(ctx, validRule()); err != nil {
		t.Errorf("Create with generated id failed: %v", err)
	}
}
