package ratelimit

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// openTestRedis connects to the Redis instance named by TEST_REDIS_ADDR,
// skipping the test when none is reachable.
func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestLimiterAllow(t *testing.T) {
	rdb := openTestRedis(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}
	user := rand.Int63n(1_000_000_000) + 1_000_000

	for i := 0; i < rule.Limit; i++ {
		if !limiter.Allow(ctx, rule, user) {
			t.Fatalf("request %d denied within limit", i+1)
		}
	}
	if limiter.Allow(ctx, rule, user) {
		t.Error("request over the limit was allowed")
	}

	remaining, err := limiter.Remaining(ctx, rule, user)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}

	// A different user has a separate counter.
	if !limiter.Allow(ctx, rule, user+1) {
		t.Error("other user's first request denied")
	}
}

func TestLimiterWindowExpiry(t *testing.T) {
	rdb := openTestRedis(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Second}
	user := rand.Int63n(1_000_000_000) + 1_000_000

	if !limiter.Allow(ctx, rule, user) {
		t.Fatal("first request denied")
	}
	if limiter.Allow(ctx, rule, user) {
		t.Fatal("second request allowed within window")
	}

	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow(ctx, rule, user) {
		t.Error("request denied after window expired")
	}
}

func TestRemainingUnusedRule(t *testing.T) {
	rdb := openTestRedis(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 5, Window: time.Minute}
	user := rand.Int63n(1_000_000_000) + 2_000_000_000

	remaining, err := limiter.Remaining(ctx, rule, user)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != rule.Limit {
		t.Errorf("remaining = %d, want %d", remaining, rule.Limit)
	}
}
