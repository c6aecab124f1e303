// Package domain defines the core types and interfaces for the rewards service.
package domain

import (
	"time"
)

// RewardStatus is the claim lifecycle state of a reward.
type RewardStatus string

const (
	// StatusUnclaimed is the initial state of every awarded reward.
	StatusUnclaimed RewardStatus = "UNCLAIMED"

	// StatusClaimed is terminal: the reward was redeemed.
	StatusClaimed RewardStatus = "CLAIMED"

	// StatusExpired is terminal: the reward lapsed before being claimed.
	StatusExpired RewardStatus = "EXPIRED"
)

// RewardValidity is how long an awarded reward stays claimable.
const RewardValidity = 10 * 24 * time.Hour

// Reward is a single awarded outcome. The rule fields are snapshotted at
// award time so later rule edits never alter past rewards.
type Reward struct {
	RewardID string `json:"rewardId"`

	// Transaction context
	UserID            string  `json:"userId"`
	TransactionID     string  `json:"transactionId"`
	TransactionAmount float64 `json:"transactionAmount"`

	// Snapshot of the originating rule
	RewardRuleID      string  `json:"rewardRuleId"`
	RewardType        string  `json:"rewardType"`
	RewardDescription string  `json:"rewardDescription"`
	RewardValue       float64 `json:"rewardValue"`

	RedeemCode string       `json:"redeemCode,omitempty"`
	Status     RewardStatus `json:"status"`

	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	ClaimedAt *time.Time `json:"claimedAt,omitempty"`
}

// RewardResponse is the public projection of a reward. The redeem code is
// only revealed through a successful claim.
type RewardResponse struct {
	RewardID          string       `json:"rewardId"`
	TransactionID     string       `json:"transactionId"`
	UserID            string       `json:"userId"`
	RewardType        string       `json:"rewardType"`
	Description       string       `json:"description"`
	RewardValue       float64      `json:"rewardValue"`
	TransactionAmount float64      `json:"transactionAmount"`
	Status            RewardStatus `json:"status"`
	CreatedAt         time.Time    `json:"createdAt"`
	ExpiresAt         time.Time    `json:"expiresAt"`
}

// ClaimResponse is returned on a successful claim.
type ClaimResponse struct {
	RewardStatus RewardStatus `json:"rewardStatus"`
	RedeemCode   string       `json:"redeemCode"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

// ToResponse converts a Reward to its public projection.
func (r *Reward) ToResponse() *RewardResponse {
	return &RewardResponse{
		RewardID:          r.RewardID,
		TransactionID:     r.TransactionID,
		UserID:            r.UserID,
		RewardType:        r.RewardType,
		Description:       r.RewardDescription,
		RewardValue:       r.RewardValue,
		TransactionAmount: r.TransactionAmount,
		Status:            r.Status,
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
	}
}

// TransactionEvent is the inbound transaction-completed message payload.
// Delivery is at-least-once; redelivery is absorbed by the idempotency check.
type TransactionEvent struct {
	TransactionID string  `json:"transactionId"`
	UserID        string  `json:"userId"`
	Amount        float64 `json:"amount"`
}

// RewardEvent is the outbound reward-awarded message payload.
type RewardEvent struct {
	RewardID          string    `json:"rewardId"`
	TransactionID     string    `json:"transactionId"`
	UserID            string    `json:"userId"`
	RewardType        string    `json:"rewardType"`
	RewardValue       float64   `json:"rewardValue"`
	RewardDescription string    `json:"rewardDescription"`
	TransactionAmount float64   `json:"transactionAmount"`
	CreatedAt         time.Time `json:"createdAt"`
}
