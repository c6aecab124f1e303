// Package worker consumes transaction events and drives reward determination.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/central-pay/rewards/internal/domain"
	"github.com/central-pay/rewards/internal/reward"
)

// Worker processes completed transactions asynchronously from the EventBus.
// Delivery is at-least-once; the engine's idempotency check absorbs
// redelivered events.
type Worker struct {
	bus    domain.EventBus
	engine *reward.Engine

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async transaction worker.
func NewWorker(bus domain.EventBus, engine *reward.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionCompleted, w.processTransaction)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("reward worker started", "topic", domain.TopicTransactionCompleted)
	return nil
}

// processTransaction determines a reward for one transaction event.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var event domain.TransactionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse transaction event",
			"message_id", msg.ID,
			"error", err,
		)
		// Malformed payloads are dropped, not retried.
		return nil
	}

	rwd, err := w.engine.Process(ctx, &event)
	if err != nil {
		switch {
		case errors.Is(err, reward.ErrDuplicateTransaction):
			// Expected under at-least-once delivery.
			slog.Debug("transaction already rewarded",
				"transaction_id", event.TransactionID,
			)
			return nil
		case errors.Is(err, reward.ErrNoApplicableTier), errors.Is(err, reward.ErrInvalidInput):
			slog.Warn("transaction not eligible for reward",
				"transaction_id", event.TransactionID,
				"amount", event.Amount,
				"error", err,
			)
			return nil
		default:
			slog.Error("reward determination failed",
				"transaction_id", event.TransactionID,
				"error", err,
			)
			return err
		}
	}

	slog.Info("transaction processed",
		"transaction_id", event.TransactionID,
		"reward_id", rwd.RewardID,
		"reward_type", rwd.RewardType,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("reward worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
