// Package ratelimit implements a fixed-window rate limiter backed by Redis.
// Counters are shared across server instances, so limits hold even when a
// user's connections land on different nodes.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limit: at most Limit events per Window, keyed by a
// prefix plus a caller-supplied identifier.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleMessage caps how many messages a user may submit.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 30, Window: 10 * time.Second}

	// RuleConnect caps how many WebSocket connections a user may open.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 10, Window: time.Minute}
)

// Limiter checks rules against Redis counters.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter creates a Limiter using the given Redis client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow increments the counter for the rule/id pair and reports whether the
// event is within the limit. Redis errors fail open: a broken limiter should
// degrade to no limiting, not to a full outage.
func (l *Limiter) Allow(ctx context.Context, rule Rule, id int64) bool {
	key := fmt.Sprintf("%s%d", rule.Key, id)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: incr failed key=%s: %v", key, err)
		return true
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("ratelimit: expire failed key=%s: %v", key, err)
		}
	}

	return count <= int64(rule.Limit)
}

// Remaining returns how many events are left in the current window. It does
// not increment the counter.
func (l *Limiter) Remaining(ctx context.Context, rule Rule, id int64) (int, error) {
	key := fmt.Sprintf("%s%d", rule.Key, id)

	count, err := l.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: get %s: %w", key, err)
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
