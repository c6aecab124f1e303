package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/central-pay/rewards/internal/domain"
)

// Seed inserts the default rule set when the rule table is empty. Safe to
// call on every startup.
func Seed(ctx context.Context, repo domain.Repository) error {
	count, err := repo.CountRewardRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to count reward rules: %w", err)
	}
	if count > 0 {
		slog.Info("reward rules already present, skipping seed", "count", count)
		return nil
	}

	rules := defaultRules()
	if err := repo.SaveRewardRules(ctx, rules); err != nil {
		return fmt.Errorf("failed to seed reward rules: %w", err)
	}

	slog.Info("seeded default reward rules", "count", len(rules))
	return nil
}

func defaultRules() []*domain.RewardRule {
	build := func(tier string, min float64, rewardType, description string, value *float64, weight int) *domain.RewardRule {
		return &domain.RewardRule{
			ID:                   uuid.New().String(),
			TierName:             tier,
			MinTransactionAmount: min,
			RewardType:           rewardType,
			Description:          description,
			RewardValue:          value,
			Weight:               weight,
			Active:               true,
		}
	}
	v := func(f float64) *float64 { return &f }

	return []*domain.RewardRule{
		build("TIER_1", 0, "BETTER_LUCK", "Try Again Next Time", nil, 35),
		build("TIER_1", 0, "CASHBACK", "2 Cashback", v(2), 25),
		build("TIER_1", 0, "POINTS", "5 Reward Points", v(5), 15),
		build("TIER_1", 0, "COUPON", "5% off on Groceries", nil, 10),
		build("TIER_1", 0, "VOUCHER", "10 off on First Food Order", v(10), 5),
		build("TIER_1", 0, "POINTS", "10 Reward Points", v(10), 4),
		build("TIER_1", 0, "CASHBACK", "5 Cashback", v(5), 3),
		build("TIER_1", 0, "COUPON", "Free Shipping (Up to 50)", nil, 2),
		build("TIER_1", 0, "VOUCHER", "20 Store Voucher", v(20), 1),

		build("TIER_2", 100, "CASHBACK", "10 Cashback", v(10), 25),
		build("TIER_2", 100, "VOUCHER", "20% off Food Delivery (Max 75)", nil, 20),
		build("TIER_2", 100, "POINTS", "50 Reward Points", v(50), 15),
		build("TIER_2", 100, "DISCOUNT", "Flat 50 off on next bill", v(50), 12),
		build("TIER_2", 100, "CASHBACK", "25 Cashback", v(25), 10),
		build("TIER_2", 100, "VOUCHER", "Free Coffee Voucher", v(200), 8),
		build("TIER_2", 100, "VOUCHER", "100 Shopping Voucher", v(100), 5),
		build("TIER_2", 100, "POINTS", "100 Reward Points", v(100), 3),
		build("TIER_2", 100, "JACKPOT", "500 Gift Card", v(500), 2),

		build("TIER_3", 1000, "SCRATCH_CARD", "Mystery Scratch Card (Up to 200)", nil, 30),
		build("TIER_3", 1000, "CASHBACK", "50 Cashback", v(50), 25),
		build("TIER_3", 1000, "VOUCHER", "250 off on Fashion", v(250), 15),
		build("TIER_3", 1000, "MOVIE_TICKET", "BOGO Movie Ticket Voucher", v(500), 10),
		build("TIER_3", 1000, "CASHBACK", "100 Cashback", v(100), 8),
		build("TIER_3", 1000, "POINTS", "500 Reward Points", v(500), 6),
		build("TIER_3", 1000, "GIFT_CARD", "500 Food Gift Card", v(500), 4),
		build("TIER_3", 1000, "SUPER_JACKPOT", "1000 Cashback", v(1000), 2),

		build("TIER_4", 10000, "VOUCHER", "1500 off on Domestic Flights", nil, 20),
		build("TIER_4", 10000, "CASHBACK", "1000 Cashback", v(1000), 20),
		build("TIER_4", 10000, "DISCOUNT", "20% off on Gadgets (Max 2500)", v(2500), 15),
		build("TIER_4", 10000, "HOTEL_VOUCHER", "25% off on Hotel Bookings", nil, 15),
		build("TIER_4", 10000, "POINTS", "2500 Reward Points", v(2500), 10),
		build("TIER_4", 10000, "GIFT_CARD", "3000 Electronics Voucher", v(3000), 8),
		build("TIER_4", 10000, "MEGA_CASHBACK", "2500 Cashback", v(2500), 7),
		build("TIER_4", 10000, "SUPER_JACKPOT", "Free Return Flight (Max 7000)", v(7000), 5),

		build("TIER_5", 100000, "CASHBACK", "5000 Cashback", v(5000), 25),
		build("TIER_5", 100000, "FLIGHT_VOUCHER", "10000 off on International Flights", v(10000), 20),
		build("TIER_5", 100000, "DISCOUNT", "30% off on Luxury Watches (Max 10000)", v(10000), 15),
		build("TIER_5", 100000, "POINTS", "10000 Reward Points", v(10000), 12),
		build("TIER_5", 100000, "GIFT_CARD", "15000 Electronics Store Voucher", v(15000), 10),
		build("TIER_5", 100000, "HOTEL_VOUCHER", "2-Night Hotel Stay Voucher (Max 8000)", v(8000), 8),
		build("TIER_5", 100000, "MEGA_CASHBACK", "10000 Cashback", v(10000), 7),
		build("TIER_5", 100000, "ULTRA_JACKPOT", "25000 Gold Voucher", v(25000), 3),

		build("TIER_6", 500000, "CASHBACK", "25000 Cashback", v(25000), 30),
		build("TIER_6", 500000, "FLIGHT_VOUCHER", "50000 off on Business Class Flight", v(50000), 25),
		build("TIER_6", 500000, "GIFT_CARD", "30000 Luxury Shopping Voucher", v(30000), 20),
		build("TIER_6", 500000, "POINTS", "50000 Reward Points", v(50000), 10),
		build("TIER_6", 500000, "MEGA_JACKPOT", "Laptop Voucher (Max 100000)", v(100000), 8),
		build("TIER_6", 500000, "ELITE_JACKPOT", "150000 Trip Voucher", v(150000), 5),
		build("TIER_6", 500000, "SUPER_ELITE", "200000 Mega Cashback", v(200000), 2),
	}
}
