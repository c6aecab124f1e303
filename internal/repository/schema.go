package repository

// Schema definitions for the rewards database.
// Compatible with both SQLite and PostgreSQL.

const schemaRewardRules = `
CREATE TABLE IF NOT EXISTS reward_rules (
    id TEXT PRIMARY KEY,
    tier_name TEXT NOT NULL,
    min_transaction_amount REAL NOT NULL,
    reward_type TEXT NOT NULL,
    description TEXT NOT NULL,
    reward_value REAL,
    weight INTEGER NOT NULL DEFAULT 0,
    condition TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reward_rules_active ON reward_rules(active);
CREATE INDEX IF NOT EXISTS idx_reward_rules_tier ON reward_rules(tier_name);
CREATE INDEX IF NOT EXISTS idx_reward_rules_threshold ON reward_rules(min_transaction_amount);
`

// schemaRewards defines the rewards table. The unique index on
// transaction_id is load-bearing: it is the storage-level enforcement of
// the one-reward-per-transaction guarantee.
const schemaRewards = `
CREATE TABLE IF NOT EXISTS rewards (
    reward_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    transaction_amount REAL NOT NULL,
    reward_rule_id TEXT NOT NULL,
    reward_type TEXT NOT NULL,
    reward_description TEXT NOT NULL,
    reward_value REAL NOT NULL DEFAULT 0,
    redeem_code TEXT,
    status TEXT NOT NULL DEFAULT 'UNCLAIMED',
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    claimed_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rewards_transaction ON rewards(transaction_id);
CREATE INDEX IF NOT EXISTS idx_rewards_user ON rewards(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_rewards_status ON rewards(status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRewardRules,
		schemaRewards,
	}
}
