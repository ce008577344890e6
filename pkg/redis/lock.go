package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LockManager provides token-based mutual exclusion on top of the store's
// conditional-set primitive. A lock may only be released by the holder
// presenting the matching token, and is never extended: if the holder
// crashes the key self-expires.
type LockManager struct {
	client *Client
	kb     *KeyBuilder
	log    *zap.Logger
}

// NewLockManager creates a LockManager scoped to the curator context.
func NewLockManager(client *Client) *LockManager {
	return &LockManager{
		client: client,
		kb:     NewKeyBuilder(NamespaceLock, ContextCurator),
		log:    client.Logger().With(zap.String("module", "lock")),
	}
}

// Acquire attempts to take the lock for a resource. It returns the holder
// token on success and ok=false when another holder is present. Callers
// must treat ok=false as "another operation is in progress" and refuse to
// proceed rather than retry-block.
func (lm *LockManager) Acquire(ctx context.Context, resource string, ttl time.Duration) (token string, ok bool, err error) {
	if ttl <= 0 {
		ttl = TTLLock
	}
	token = uuid.NewString()
	key := lm.kb.Build(resource, "")

	ok, err = lm.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		lm.log.Error("lock acquire failed", zap.String("resource", resource), zap.Error(err))
		return "", false, fmt.Errorf("failed to acquire lock %q: %w", resource, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lock only when the stored token matches the caller's.
// A stale double-release or a second contender's accidental release is a
// no-op returning false.
func (lm *LockManager) Release(ctx context.Context, resource, token string) (bool, error) {
	key := lm.kb.Build(resource, "")

	current, err := lm.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil // already expired or released
	}
	if err != nil {
		lm.log.Error("lock release read failed", zap.String("resource", resource), zap.Error(err))
		return false, fmt.Errorf("failed to read lock %q: %w", resource, err)
	}
	if current != token {
		lm.log.Warn("lock release token mismatch", zap.String("resource", resource))
		return false, nil
	}

	if err := lm.client.Del(ctx, key).Err(); err != nil {
		lm.log.Error("lock release delete failed", zap.String("resource", resource), zap.Error(err))
		return false, fmt.Errorf("failed to release lock %q: %w", resource, err)
	}
	return true, nil
}
