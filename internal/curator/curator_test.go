package curator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phonologic/curator/internal/audit"
	"github.com/phonologic/curator/internal/knowledge"
	"github.com/phonologic/curator/internal/override"
	"github.com/phonologic/curator/internal/staging"
	"github.com/phonologic/curator/pkg/redis"
)

type testEnv struct {
	svc       *Service
	staging   *staging.Repository
	overrides *override.Repository
	auditLog  *audit.Log
	locks     *redis.LockManager
	mr        *miniredis.Miniredis
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	client := redis.Wrap(rc, zap.NewNop())
	stagingRepo := staging.NewRepository(client, time.Hour)
	overrideRepo := override.NewRepository(client)
	auditLog := audit.NewLog(client, 100)
	locks := redis.NewLockManager(client)
	limiter := redis.NewRateLimiter(client)
	snapshots := knowledge.NewProvider(overrideRepo, zap.NewNop())

	svc := NewService(stagingRepo, overrideRepo, auditLog, locks, limiter, snapshots, cfg, zap.NewNop())
	return &testEnv{
		svc:       svc,
		staging:   stagingRepo,
		overrides: overrideRepo,
		auditLog:  auditLog,
		locks:     locks,
		mr:        mr,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SubmitMax = 100
	cfg.QueryMax = 100
	return cfg
}

const cleanText = "Finished the quarterly board deck yesterday"
const conflictingText = "We don't have rate limiting yet"

func TestSubmitCleanText(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	result, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.False(t, result.ClarificationNeeded)
	require.NotEmpty(t, result.ContributionID)
	assert.Contains(t, result.Message, result.ContributionID)

	c, found, err := env.staging.Get(ctx, result.ContributionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, staging.StatusPending, c.Status)
	assert.Equal(t, "alice", c.Contributor)

	entries, err := env.svc.GetAuditLog(ctx, 10, "contribution_staged")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, result.ContributionID, entries[0].Data["id"])
}

func TestSubmitConflictingText(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	result, err := env.svc.Submit(ctx, conflictingText, "alice", false)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.True(t, result.ClarificationNeeded)
	require.NotEmpty(t, result.Conflicts)
	assert.Contains(t, result.Message, "Potential conflicts")
	assert.Contains(t, result.Message, "Resolve with one of")

	c, found, err := env.staging.Get(ctx, result.ContributionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, staging.StatusNeedsClarification, c.Status)
	assert.NotEmpty(t, c.Conflicts)
	assert.NotEmpty(t, c.CuratorResponse)
}

func TestSubmitForceBypassesConflicts(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	result, err := env.svc.Submit(ctx, conflictingText, "alice", true)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.False(t, result.ClarificationNeeded)

	c, found, err := env.staging.Get(ctx, result.ContributionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, staging.StatusPending, c.Status)
	assert.NotEmpty(t, c.Conflicts, "conflicts are recorded even when forced past")
}

func TestSubmitInvalidInput(t *testing.T) {
	env := newTestEnv(t, testConfig())

	result, err := env.svc.Submit(context.Background(), "   ", "alice", false)
	require.NoError(t, err, "validation failures are results, not errors")
	assert.False(t, result.Accepted)
	assert.Empty(t, result.ContributionID)
	assert.Contains(t, result.Message, "required")
}

func TestSubmitRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.SubmitMax = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := env.svc.Submit(ctx, cleanText, "alice", false)
		require.NoError(t, err)
		require.True(t, result.Accepted)
	}

	result, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Message, "Rate limit exceeded")
	assert.Empty(t, result.ContributionID, "nothing staged past the limit")

	// Other contributors are unaffected.
	result, err = env.svc.Submit(ctx, cleanText, "bob", false)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
}

func TestSubmitFailsClosedWhenStoreDown(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.mr.Close()

	result, err := env.svc.Submit(context.Background(), cleanText, "alice", false)
	require.Error(t, err)
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Message, "temporarily unavailable")
}

func TestResolveUpdate(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	id := submitted.ContributionID

	result, err := env.svc.Resolve(ctx, id, ActionUpdate, "")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Contains(t, result.Message, "Knowledge base updated")

	// The approved text landed in the override store under its category.
	all, err := env.overrides.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	ov, ok := all["recent_updates:update_"+id]
	require.True(t, ok, "got %v", all)
	assert.Equal(t, cleanText, ov.Value)
	assert.Equal(t, "alice", ov.Contributor)
	assert.NotEmpty(t, ov.VersionID)

	// Resolved items leave staging.
	_, found, err := env.staging.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	entries, err := env.svc.GetAuditLog(ctx, 10, "contribution_approved")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].Data["id"])
	assert.Equal(t, ov.VersionID, entries[0].Data["version_id"])
}

func TestResolveKeep(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	id := submitted.ContributionID

	result, err := env.svc.Resolve(ctx, id, ActionKeep, "")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Message, "Keeping existing information")

	all, err := env.overrides.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "rejected contributions never touch the knowledge base")

	_, found, err := env.staging.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	entries, err := env.svc.GetAuditLog(ctx, 10, "contribution_rejected")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestResolveAddNote(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	id := submitted.ContributionID

	result, err := env.svc.Resolve(ctx, id, ActionAddNote, "")
	require.NoError(t, err)
	assert.True(t, result.Accepted)

	all, err := env.overrides.GetAll(ctx)
	require.NoError(t, err)
	ov, ok := all["recent_updates:note_"+id]
	require.True(t, ok, "got %v", all)
	assert.True(t, strings.HasPrefix(ov.Value, "[Note] "))
}

func TestResolveNotFound(t *testing.T) {
	env := newTestEnv(t, testConfig())

	result, err := env.svc.Resolve(context.Background(), "contrib_nope", ActionUpdate, "")
	require.NoError(t, err, "not-found is a result, not an error")
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Message, "not found")
}

func TestResolveIdempotent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	id := submitted.ContributionID

	_, err = env.svc.Resolve(ctx, id, ActionUpdate, "")
	require.NoError(t, err)

	// A duplicate resolution reads as not-found and mutates nothing.
	result, err := env.svc.Resolve(ctx, id, ActionUpdate, "")
	require.NoError(t, err)
	assert.Contains(t, result.Message, "not found")

	all, err := env.overrides.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "the override was applied exactly once")
}

func TestResolveLockContention(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	id := submitted.ContributionID

	// Another instance holds the resolution lock.
	_, ok, err := env.locks.Acquire(ctx, "resolve:"+id, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := env.svc.Resolve(ctx, id, ActionUpdate, "")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Message, "in progress")

	// Nothing was mutated by the refused contender.
	_, found, err := env.staging.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	all, err := env.overrides.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	id := submitted.ContributionID

	const resolvers = 8
	results := make([]Result, resolvers)
	errs := make([]error, resolvers)
	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Resolve(ctx, id, ActionUpdate, "")
		}(i)
	}
	wg.Wait()

	var accepted int
	for i := 0; i < resolvers; i++ {
		require.NoError(t, errs[i])
		if results[i].Accepted {
			accepted++
		} else {
			// Losers either hit the held lock or found the record gone.
			assert.True(t,
				strings.Contains(results[i].Message, "in progress") ||
					strings.Contains(results[i].Message, "not found"),
				"unexpected loser message: %s", results[i].Message)
		}
	}
	assert.Equal(t, 1, accepted, "exactly one resolver mutates")

	all, err := env.overrides.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "the override was written exactly once")
	entries, err := env.svc.GetAuditLog(ctx, 50, "contribution_approved")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestResolveChecksRecordUnderLock(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)
	id := submitted.ContributionID

	// A competing resolution finished between this caller deciding to
	// resolve and the lock being granted.
	_, err = env.svc.Resolve(ctx, id, ActionKeep, "")
	require.NoError(t, err)

	result, err := env.svc.Resolve(ctx, id, ActionUpdate, "")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Message, "not found")

	all, err := env.overrides.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "the rejected record is never re-applied")
}

func TestResolveUnknownAction(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, cleanText, "alice", false)
	require.NoError(t, err)

	result, err := env.svc.Resolve(ctx, submitted.ContributionID, "escalate", "")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Message, "Unknown action")
}

func TestResolveClarifyRequiresText(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, conflictingText, "alice", false)
	require.NoError(t, err)

	result, err := env.svc.Resolve(ctx, submitted.ContributionID, ActionClarify, "  ")
	require.NoError(t, err)
	assert.True(t, result.ClarificationNeeded)
	assert.Contains(t, result.Message, "clarification")
}

func TestResolveClarifyResubmits(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	submitted, err := env.svc.Submit(ctx, conflictingText, "alice", false)
	require.NoError(t, err)
	id := submitted.ContributionID

	result, err := env.svc.Resolve(ctx, id, ActionClarify, "I meant per-tenant limits on the export endpoint are still pending")
	require.NoError(t, err)
	require.NotEmpty(t, result.ContributionID)
	assert.NotEqual(t, id, result.ContributionID, "clarification produces a fresh submission")

	c, found, err := env.staging.Get(ctx, result.ContributionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", c.Contributor, "attribution survives clarification")
	assert.Contains(t, c.RawInput, "Clarification:")
}

func TestListPendingPagination(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := env.svc.Submit(ctx, cleanText, "alice", false)
		require.NoError(t, err)
		require.True(t, result.Accepted)
	}

	items, total, err := env.svc.ListPending(ctx, "reviewer", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)

	items, _, err = env.svc.ListPending(ctx, "reviewer", 2, 2)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestListPendingRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.QueryMax = 1
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	_, _, err := env.svc.ListPending(ctx, "reviewer", 1, 10)
	require.NoError(t, err)

	_, _, err = env.svc.ListPending(ctx, "reviewer", 1, 10)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestRollbackAudited(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	_, err := env.overrides.Save(ctx, "pricing", "update_1", "v1", "alice", true)
	require.NoError(t, err)
	_, err = env.overrides.Save(ctx, "pricing", "update_1", "v2", "bob", true)
	require.NoError(t, err)

	restored, err := env.svc.Rollback(ctx, "pricing", "update_1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, "v1", restored.Value)

	entries, err := env.svc.GetAuditLog(ctx, 10, "override_rollback")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pricing", entries[0].Data["category"])
}

func TestRollbackNoHistoryNotAudited(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	restored, err := env.svc.Rollback(ctx, "pricing", "never_saved")
	require.NoError(t, err)
	assert.Nil(t, restored)

	entries, err := env.svc.GetAuditLog(ctx, 10, "override_rollback")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteOverrideAudited(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	_, err := env.overrides.Save(ctx, "pricing", "update_1", "v1", "alice", true)
	require.NoError(t, err)

	deleted, err := env.svc.DeleteOverride(ctx, "pricing", "update_1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = env.svc.DeleteOverride(ctx, "pricing", "update_1")
	require.NoError(t, err)
	assert.False(t, deleted)

	entries, err := env.svc.GetAuditLog(ctx, 10, "override_deleted")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the effective delete is audited")
}
