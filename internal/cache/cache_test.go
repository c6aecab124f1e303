package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/central-pay/rewards/internal/domain"
)

func TestLRUCacheSetGet(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("got %q, want value1", val)
	}
}

func TestLRUCacheMiss(t *testing.T) {
	c := NewLRUCache(10)

	val, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil for missing key, got %q", val)
	}
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Error("expected expired entry to be gone")
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key%d", i)
		if err := c.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3 capacity 3, got %d/%d", size, capacity)
	}

	// Oldest entries evicted.
	for _, key := range []string{"key0", "key1"} {
		val, _ := c.Get(ctx, key)
		if val != nil {
			t.Errorf("expected %s to be evicted", key)
		}
	}
	val, _ := c.Get(ctx, "key4")
	if val == nil {
		t.Error("expected key4 to survive")
	}
}

func TestLRUCacheUpdateExisting(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("old"), time.Minute)
	c.Set(ctx, "key", []byte("new"), time.Minute)

	val, _ := c.Get(ctx, "key")
	if string(val) != "new" {
		t.Errorf("got %q, want new", val)
	}

	size, _ := c.Stats()
	if size != 1 {
		t.Errorf("update should not grow the cache, size %d", size)
	}
}

func TestLRUCacheDelete(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	val, _ := c.Get(ctx, "key")
	if val != nil {
		t.Error("expected deleted key to be gone")
	}
}

func TestLRUCacheRewardRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	reward := &domain.Reward{
		RewardID:          "rwd-1",
		UserID:            "user-1",
		TransactionID:     "txn-1",
		TransactionAmount: 500,
		RewardType:        "CASHBACK",
		RewardValue:       25,
		RedeemCode:        "RWD-ABC",
		Status:            domain.StatusUnclaimed,
		CreatedAt:         now,
		ExpiresAt:         now.Add(domain.RewardValidity),
	}

	if err := c.SetReward(ctx, reward, time.Minute); err != nil {
		t.Fatalf("SetReward failed: %v", err)
	}

	got, err := c.GetReward(ctx, "rwd-1")
	if err != nil {
		t.Fatalf("GetReward failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached reward")
	}
	if got.RewardID != "rwd-1" || got.Status != domain.StatusUnclaimed || got.RewardValue != 25 {
		t.Errorf("unexpected reward: %+v", got)
	}

	if err := c.DeleteReward(ctx, "rwd-1"); err != nil {
		t.Fatalf("DeleteReward failed: %v", err)
	}
	got, _ = c.GetReward(ctx, "rwd-1")
	if got != nil {
		t.Error("expected reward to be dropped")
	}
}

func TestLRUCacheRewardMiss(t *testing.T) {
	c := NewLRUCache(10)

	got, err := c.GetReward(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetReward failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing reward")
	}
}

func TestNewFactoryMemory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}
}

func TestNewFactoryUnsupported(t *testing.T) {
	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
