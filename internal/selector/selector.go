// Package selector implements weighted random selection over reward rules.
package selector

import (
	"errors"

	"github.com/central-pay/rewards/internal/domain"
)

// ErrNoOptions means the option list was empty.
var ErrNoOptions = errors.New("no reward options to select from")

// Source yields random integers in [0, n). *rand.Rand from math/rand/v2
// satisfies it; tests substitute a deterministic source.
type Source interface {
	IntN(n int) int
}

// Choose picks one rule by roulette selection: each rule's chance is its
// weight divided by the tier's total weight. Non-positive weights
// contribute nothing; if the whole tier sums to zero or less the pick
// falls back to uniform.
func Choose(options []*domain.RewardRule, src Source) (*domain.RewardRule, error) {
	if len(options) == 0 {
		return nil, ErrNoOptions
	}
	if len(options) == 1 {
		return options[0], nil
	}

	total := 0
	for _, opt := range options {
		if opt.Weight > 0 {
			total += opt.Weight
		}
	}
	if total <= 0 {
		return options[src.IntN(len(options))], nil
	}

	pick := src.IntN(total)
	for _, opt := range options {
		if opt.Weight <= 0 {
			continue
		}
		pick -= opt.Weight
		if pick < 0 {
			return opt, nil
		}
	}

	// Unreachable when weights are consistent with total.
	return options[len(options)-1], nil
}
