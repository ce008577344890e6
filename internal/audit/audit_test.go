package audit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phonologic/curator/pkg/redis"
)

func newTestLog(t *testing.T, capEntries int) *Log {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	l := NewLog(redis.Wrap(rc, zap.NewNop()), capEntries)

	// Deterministic, strictly increasing timestamps.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return l
}

func TestAppendAndList(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "contribution_staged", map[string]string{"id": "c1"}))
	require.NoError(t, l.Append(ctx, "contribution_approved", map[string]string{"id": "c1"}))
	require.NoError(t, l.Append(ctx, "contribution_rejected", map[string]string{"id": "c2"}))

	entries, err := l.List(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Most recent first.
	assert.Equal(t, "contribution_rejected", entries[0].Action)
	assert.Equal(t, "contribution_approved", entries[1].Action)
	assert.Equal(t, "contribution_staged", entries[2].Action)
	assert.Equal(t, "c2", entries[0].Data["id"])
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestListLimit(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, "contribution_staged", map[string]string{"n": string(rune('a' + i))}))
	}

	entries, err := l.List(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestListActionFilter(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "contribution_staged", map[string]string{"id": "c1"}))
	require.NoError(t, l.Append(ctx, "contribution_approved", map[string]string{"id": "c1"}))
	require.NoError(t, l.Append(ctx, "contribution_staged", map[string]string{"id": "c2"}))
	require.NoError(t, l.Append(ctx, "override_rollback", map[string]string{"category": "pricing"}))

	entries, err := l.List(ctx, 10, "contribution_staged")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "contribution_staged", e.Action)
	}
	assert.Equal(t, "c2", entries[0].Data["id"])
}

func TestCapTrimsOldest(t *testing.T) {
	l := newTestLog(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, "contribution_staged", map[string]string{"seq": string(rune('0' + i))}))
	}

	entries, err := l.List(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest three survive; the two oldest were trimmed in-pipeline.
	assert.Equal(t, "4", entries[0].Data["seq"])
	assert.Equal(t, "3", entries[1].Data["seq"])
	assert.Equal(t, "2", entries[2].Data["seq"])
}

func TestListSkipsMalformedEntries(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "contribution_staged", map[string]string{"id": "c1"}))
	require.NoError(t, l.client.ZAdd(ctx, l.key, goredis.Z{Score: 9e18, Member: "{not json"}).Err())

	entries, err := l.List(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "contribution_staged", entries[0].Action)
}
