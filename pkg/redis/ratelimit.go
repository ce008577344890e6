package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimiter implements fixed-window counters on the store's atomic
// increment. The TTL is set on every call, not just the first increment of
// a window; resetting the TTL on an already-bounded window only extends it
// slightly, which is accepted as known imprecision in exchange for never
// leaving an unbounded counter behind.
//
// Failure policy is the caller's: Check surfaces transport errors and the
// lifecycle controller fails closed for contribution writes (protecting
// the store) and open for read paths (availability over strict fairness).
type RateLimiter struct {
	client *Client
	kb     *KeyBuilder
	log    *zap.Logger
}

// NewRateLimiter creates a RateLimiter scoped to the curator context.
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{
		client: client,
		kb:     NewKeyBuilder(NamespaceRate, ContextCurator),
		log:    client.Logger().With(zap.String("module", "ratelimit")),
	}
}

// Check increments the window counter for identifier and reports whether
// the call is within the limit, plus how many calls remain in the window.
func (rl *RateLimiter) Check(ctx context.Context, identifier string, max int, window time.Duration) (allowed bool, remaining int, err error) {
	if window <= 0 {
		window = TTLRateLimit
	}
	key := rl.kb.Build(identifier, "")

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Error("rate limit check failed", zap.String("identifier", identifier), zap.Error(err))
		return false, 0, fmt.Errorf("failed to check rate limit for %q: %w", identifier, err)
	}

	count := int(incr.Val())
	remaining = max - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= max, remaining, nil
}
