package domain

import (
	"time"
)

// RewardRule is a configured reward outcome within a tier. Rules sharing a
// MinTransactionAmount form one tier's option list; the weight is the rule's
// relative probability mass within that tier.
type RewardRule struct {
	ID string `json:"id"`

	// Grouping label, informational only. Tier bucketing for lookup is
	// driven by MinTransactionAmount.
	TierName string `json:"tierName"`

	// Lower bound of the tier bucket. A transaction qualifies when its
	// amount is >= this threshold and below the next higher threshold in
	// the active rule set.
	MinTransactionAmount float64 `json:"minTransactionAmount"`

	RewardType  string `json:"rewardType"`
	Description string `json:"description"`

	// Nil means a non-monetary reward ("try again" and the like).
	RewardValue *float64 `json:"rewardValue,omitempty"`

	Weight int `json:"weight"`

	// Optional CEL expression over `amount` and `user_id`. When set, the
	// rule only enters the option list if the expression evaluates true
	// for the transaction being rewarded.
	Condition string `json:"condition,omitempty"`

	Active bool `json:"active"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Value returns the monetary value of the rule, defaulting to 0 for
// non-monetary rewards.
func (r *RewardRule) Value() float64 {
	if r.RewardValue == nil {
		return 0
	}
	return *r.RewardValue
}
