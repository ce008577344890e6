// Package audit provides an append-only, time-ordered, size-bounded log
// of every disposition the service takes. Entries survive the staged
// records they describe: a resolved contribution is deleted from staging
// but its terminal outcome stays here.
package audit

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/phonologic/curator/pkg/redis"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultCap is the number of entries retained before the oldest are trimmed.
const DefaultCap = 1000

// Entry is one audit record.
type Entry struct {
	Action    string            `json:"action"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// Log appends entries to a timestamp-scored sorted set and trims it to the
// newest cap entries in the same pipeline, so the log is self-bounding
// without a separate cleanup job.
type Log struct {
	client *redis.Client
	key    string
	cap    int
	log    *zap.Logger
	now    func() time.Time
}

// NewLog creates an audit log with the given retention cap (zero means
// the default of 1000 entries).
func NewLog(client *redis.Client, capEntries int) *Log {
	if capEntries <= 0 {
		capEntries = DefaultCap
	}
	kb := redis.NewKeyBuilder(redis.NamespaceAudit, redis.ContextCurator)
	return &Log{
		client: client,
		key:    kb.Build("log", ""),
		cap:    capEntries,
		log:    client.Logger().With(zap.String("module", "audit")),
		now:    time.Now,
	}
}

// Append records an action. Append is safe under unlimited concurrent
// callers: it relies only on the store's sorted-set add, never on
// read-then-write.
func (l *Log) Append(ctx context.Context, action string, data map[string]string) error {
	entry := Entry{
		Action:    action,
		Data:      data,
		Timestamp: l.now().UTC(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, l.key, goredis.Z{
		Score:  float64(entry.Timestamp.UnixNano()),
		Member: string(raw),
	})
	pipe.ZRemRangeByRank(ctx, l.key, 0, int64(-(l.cap + 1)))
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error("failed to append audit entry", zap.String("action", action), zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// List returns entries most recent first, optionally filtered by action.
// Malformed entries are skipped rather than failing the whole call.
func (l *Log) List(ctx context.Context, limit int, actionFilter string) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	// Over-fetch when filtering client-side so a filtered page still fills.
	fetch := int64(limit - 1)
	if actionFilter != "" {
		fetch = int64(l.cap - 1)
	}
	raw, err := l.client.ZRevRange(ctx, l.key, 0, fetch).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	entries := make([]Entry, 0, limit)
	for _, data := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			l.log.Warn("skipping malformed audit entry", zap.Error(err))
			continue
		}
		if actionFilter != "" && entry.Action != actionFilter {
			continue
		}
		entries = append(entries, entry)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}
