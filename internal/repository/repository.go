// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/central-pay/rewards/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint, in particular the one on rewards.transaction_id that
	// enforces one reward per transaction.
	ErrDuplicate = errors.New("duplicate record")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRewardRule inserts a rule or updates it in place when the id exists.
func (r *SQLRepository) SaveRewardRule(ctx context.Context, rule *domain.RewardRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}
	if rule.MinTransactionAmount < 0 {
		return fmt.Errorf("%w: minTransactionAmount must be non-negative", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO reward_rules (
			id, tier_name, min_transaction_amount, reward_type, description,
			reward_value, weight, condition, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier_name = excluded.tier_name,
			min_transaction_amount = excluded.min_transaction_amount,
			reward_type = excluded.reward_type,
			description = excluded.description,
			reward_value = excluded.reward_value,
			weight = excluded.weight,
			condition = excluded.condition,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.TierName, rule.MinTransactionAmount,
		rule.RewardType, rule.Description, rewardValueParam(rule.RewardValue),
		rule.Weight, rule.Condition, boolToInt(rule.Active),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// SaveRewardRules stores a batch of rules in a single transaction.
// All-or-nothing: any failure rolls back the whole batch.
func (r *SQLRepository) SaveRewardRules(ctx context.Context, rules []*domain.RewardRule) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: at least one rule is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := r.rebind(`
		INSERT INTO reward_rules (
			id, tier_name, min_transaction_amount, reward_type, description,
			reward_value, weight, condition, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, rule := range rules {
		if rule.ID == "" {
			return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, query,
			rule.ID, rule.TierName, rule.MinTransactionAmount,
			rule.RewardType, rule.Description, rewardValueParam(rule.RewardValue),
			rule.Weight, rule.Condition, boolToInt(rule.Active),
			rule.CreatedAt, rule.UpdatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRewardRule retrieves a rule by id.
func (r *SQLRepository) GetRewardRule(ctx context.Context, ruleID string) (*domain.RewardRule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: ruleID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tier_name, min_transaction_amount, reward_type, description,
		       reward_value, weight, condition, active, created_at, updated_at
		FROM reward_rules
		WHERE id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRewardRules retrieves all rules, active or not, ordered by tier.
func (r *SQLRepository) ListRewardRules(ctx context.Context) ([]*domain.RewardRule, error) {
	query := `
		SELECT id, tier_name, min_transaction_amount, reward_type, description,
		       reward_value, weight, condition, active, created_at, updated_at
		FROM reward_rules
		ORDER BY min_transaction_amount, weight DESC
	`
	return r.queryRules(ctx, query)
}

// ListActiveRewardRules retrieves the rules eligible for the tier cache.
func (r *SQLRepository) ListActiveRewardRules(ctx context.Context) ([]*domain.RewardRule, error) {
	query := `
		SELECT id, tier_name, min_transaction_amount, reward_type, description,
		       reward_value, weight, condition, active, created_at, updated_at
		FROM reward_rules
		WHERE active = 1
		ORDER BY min_transaction_amount, weight DESC
	`
	return r.queryRules(ctx, query)
}

// ListRewardRulesByTier retrieves all rules labelled with a tier name.
func (r *SQLRepository) ListRewardRulesByTier(ctx context.Context, tierName string) ([]*domain.RewardRule, error) {
	if tierName == "" {
		return nil, fmt.Errorf("%w: tierName is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tier_name, min_transaction_amount, reward_type, description,
		       reward_value, weight, condition, active, created_at, updated_at
		FROM reward_rules
		WHERE tier_name = ?
		ORDER BY weight DESC
	`
	return r.queryRules(ctx, query, tierName)
}

// DeleteRewardRule removes a rule permanently. Soft deletion (active = 0)
// goes through SaveRewardRule instead.
func (r *SQLRepository) DeleteRewardRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("%w: ruleID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM reward_rules WHERE id = ?`), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CountRewardRules returns the total number of configured rules.
func (r *SQLRepository) CountRewardRules(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reward_rules`).Scan(&count)
	return count, err
}

// CreateReward persists a newly awarded reward. The unique index on
// transaction_id is the enforcement mechanism of last resort for the
// one-reward-per-transaction guarantee; a conflicting concurrent insert
// surfaces as ErrDuplicate.
func (r *SQLRepository) CreateReward(ctx context.Context, reward *domain.Reward) error {
	if reward == nil || reward.RewardID == "" {
		return fmt.Errorf("%w: rewardID is required", ErrInvalidInput)
	}
	if reward.TransactionID == "" {
		return fmt.Errorf("%w: transactionID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO rewards (
			reward_id, user_id, transaction_id, transaction_amount,
			reward_rule_id, reward_type, reward_description, reward_value,
			redeem_code, status, created_at, expires_at, claimed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		reward.RewardID, reward.UserID, reward.TransactionID, reward.TransactionAmount,
		reward.RewardRuleID, reward.RewardType, reward.RewardDescription, reward.RewardValue,
		reward.RedeemCode, string(reward.Status),
		reward.CreatedAt, reward.ExpiresAt, reward.ClaimedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s", ErrDuplicate, reward.TransactionID)
	}
	return err
}

// GetReward retrieves a reward by id.
func (r *SQLRepository) GetReward(ctx context.Context, rewardID string) (*domain.Reward, error) {
	if rewardID == "" {
		return nil, fmt.Errorf("%w: rewardID is required", ErrInvalidInput)
	}

	query := `
		SELECT reward_id, user_id, transaction_id, transaction_amount,
		       reward_rule_id, reward_type, reward_description, reward_value,
		       redeem_code, status, created_at, expires_at, claimed_at
		FROM rewards
		WHERE reward_id = ?
	`

	reward, err := scanReward(r.db.QueryRowContext(ctx, r.rebind(query), rewardID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reward, err
}

// RewardExistsForTransaction reports whether a transaction was already
// rewarded. This is the fast-path idempotency check; the unique index on
// transaction_id backs it up.
func (r *SQLRepository) RewardExistsForTransaction(ctx context.Context, transactionID string) (bool, error) {
	if transactionID == "" {
		return false, fmt.Errorf("%w: transactionID is required", ErrInvalidInput)
	}

	var one int
	query := `SELECT 1 FROM rewards WHERE transaction_id = ? LIMIT 1`
	err := r.db.QueryRowContext(ctx, r.rebind(query), transactionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListUserRewards retrieves a user's rewards, most recent first.
func (r *SQLRepository) ListUserRewards(ctx context.Context, userID string, page, size int) ([]*domain.Reward, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if page < 0 || size <= 0 {
		return nil, fmt.Errorf("%w: page must be >= 0 and size > 0", ErrInvalidInput)
	}

	query := `
		SELECT reward_id, user_id, transaction_id, transaction_amount,
		       reward_rule_id, reward_type, reward_description, reward_value,
		       redeem_code, status, created_at, expires_at, claimed_at
		FROM rewards
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, size, page*size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rewards []*domain.Reward
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, reward)
	}

	return rewards, rows.Err()
}

// ClaimReward performs the compare-and-swap claim transition. The WHERE
// clause on status guarantees at most one caller wins under concurrency.
func (r *SQLRepository) ClaimReward(ctx context.Context, rewardID, redeemCode string, claimedAt time.Time) (bool, error) {
	if rewardID == "" {
		return false, fmt.Errorf("%w: rewardID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rewards
		SET status = ?, redeem_code = ?, claimed_at = ?
		WHERE reward_id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(domain.StatusClaimed), redeemCode, claimedAt,
		rewardID, string(domain.StatusUnclaimed),
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkRewardExpired lazily transitions a lapsed reward to EXPIRED. A reward
// that was claimed in the meantime is left untouched.
func (r *SQLRepository) MarkRewardExpired(ctx context.Context, rewardID string) error {
	if rewardID == "" {
		return fmt.Errorf("%w: rewardID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rewards
		SET status = ?
		WHERE reward_id = ? AND status != ?
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		string(domain.StatusExpired), rewardID, string(domain.StatusClaimed),
	)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.RewardRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RewardRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*domain.RewardRule, error) {
	var rule domain.RewardRule
	var value sql.NullFloat64
	var active int

	if err := s.Scan(
		&rule.ID, &rule.TierName, &rule.MinTransactionAmount,
		&rule.RewardType, &rule.Description, &value,
		&rule.Weight, &rule.Condition, &active,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Active = active == 1
	if value.Valid {
		v := value.Float64
		rule.RewardValue = &v
	}

	return &rule, nil
}

func scanReward(s scanner) (*domain.Reward, error) {
	var reward domain.Reward
	var status string
	var claimedAt sql.NullTime

	if err := s.Scan(
		&reward.RewardID, &reward.UserID, &reward.TransactionID, &reward.TransactionAmount,
		&reward.RewardRuleID, &reward.RewardType, &reward.RewardDescription, &reward.RewardValue,
		&reward.RedeemCode, &status,
		&reward.CreatedAt, &reward.ExpiresAt, &claimedAt,
	); err != nil {
		return nil, err
	}

	reward.Status = domain.RewardStatus(status)
	if claimedAt.Valid {
		t := claimedAt.Time
		reward.ClaimedAt = &t
	}

	return &reward, nil
}

func rewardValueParam(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation detects a uniqueness constraint error from either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	// modernc.org/sqlite surfaces constraint errors as plain strings.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
