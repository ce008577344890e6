// Package override stores approved knowledge overrides: a hash map of
// current values keyed by category:key, plus a time-ordered history of
// every value that was replaced, enabling point rollback.
package override

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

// DefaultHistoryScan bounds how far back Rollback searches for the most
// recent archived value of a field.
const DefaultHistoryScan = 200

// Override is an approved mutation layered on top of baseline knowledge.
type Override struct {
	Category    string    `json:"category"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Contributor string    `json:"contributor"`
	Timestamp   time.Time `json:"timestamp"`
	VersionID   string    `json:"version_id"`
}

// Field returns the composite hash field identity.
func (o Override) Field() string {
	return o.Category + ":" + o.Key
}

// HistoryEntry archives a value at the moment it was replaced.
type HistoryEntry struct {
	Previous     Override  `json:"previous"`
	ReplacedAt   time.Time `json:"replaced_at"`
	ReplacedBy   string    `json:"replaced_by"`
	NewVersionID string    `json:"new_version_id"`
}

// Repository persists overrides in the shared store. Values are never
// physically deleted by a replacement: the previous value is archived in
// the same pipeline that writes the new one.
type Repository struct {
	client      *redis.Client
	currentKey  string
	historyKey  string
	historyScan int
	log         *zap.Logger
	now         func() time.Time
	newVersion  func() string
}

// NewRepository creates an override repository on the given client.
func NewRepository(client *redis.Client) *Repository {
	kb := redis.NewKeyBuilder(redis.NamespaceKnowledge, redis.ContextCurator)
	return &Repository{
		client:      client,
		currentKey:  kb.Build("overrides", ""),
		historyKey:  kb.Build("history", ""),
		historyScan: DefaultHistoryScan,
		log:         client.Logger().With(zap.String("module", "override")),
		now:         time.Now,
		newVersion:  newVersionID,
	}
}

// Save writes a new override value for category:key. When keepHistory is
// set and a value already exists, that value is archived into the history
// index in the same pipeline, so exactly one history entry references the
// version being replaced. Returns the new version id.
func (r *Repository) Save(ctx context.Context, category, key, value, contributor string, keepHistory bool) (string, error) {
	if category == "" || key == "" {
		return "", fmt.Errorf("override category and key are required")
	}

	now := r.now().UTC()
	ov := Override{
		Category:    category,
		Key:         key,
		Value:       value,
		Contributor: contributor,
		Timestamp:   now,
		VersionID:   r.newVersion(),
	}
	data, err := json.Marshal(ov)
	if err != nil {
		return "", fmt.Errorf("failed to marshal override: %w", err)
	}

	var archived []byte
	if keepHistory {
		prev, found, err := r.Get(ctx, category, key)
		if err != nil {
			return "", err
		}
		if found {
			entry := HistoryEntry{
				Previous:     prev,
				ReplacedAt:   now,
				ReplacedBy:   contributor,
				NewVersionID: ov.VersionID,
			}
			archived, err = json.Marshal(entry)
			if err != nil {
				return "", fmt.Errorf("failed to marshal history entry: %w", err)
			}
		}
	}

	pipe := r.client.TxPipeline()
	if archived != nil {
		pipe.ZAdd(ctx, r.historyKey, goredis.Z{
			Score:  float64(now.UnixMilli()),
			Member: string(archived),
		})
	}
	pipe.HSet(ctx, r.currentKey, ov.Field(), string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("failed to save override", zap.String("field", ov.Field()), zap.Error(err))
		return "", fmt.Errorf("failed to save override %q: %w", ov.Field(), err)
	}

	r.log.Info("saved override",
		zap.String("field", ov.Field()),
		zap.String("version_id", ov.VersionID),
		zap.Bool("archived_previous", archived != nil))
	return ov.VersionID, nil
}

// Get returns the current override for category:key.
func (r *Repository) Get(ctx context.Context, category, key string) (Override, bool, error) {
	raw, err := r.client.HGet(ctx, r.currentKey, category+":"+key).Result()
	if err == goredis.Nil {
		return Override{}, false, nil
	}
	if err != nil {
		return Override{}, false, fmt.Errorf("failed to read override %s:%s: %w", category, key, err)
	}
	var ov Override
	if err := json.Unmarshal([]byte(raw), &ov); err != nil {
		r.log.Warn("skipping corrupt override", zap.String("field", category+":"+key), zap.Error(err))
		return Override{}, false, nil
	}
	return ov, true, nil
}

// GetAll returns every current override keyed by category:key. Corrupt
// entries are skipped with a warning rather than failing the dump.
func (r *Repository) GetAll(ctx context.Context) (map[string]Override, error) {
	raw, err := r.client.HGetAll(ctx, r.currentKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}
	out := make(map[string]Override, len(raw))
	for field, data := range raw {
		var ov Override
		if err := json.Unmarshal([]byte(data), &ov); err != nil {
			r.log.Warn("skipping corrupt override", zap.String("field", field), zap.Error(err))
			continue
		}
		out[field] = ov
	}
	return out, nil
}

// GetHistory returns archived entries, most recent first.
func (r *Repository) GetHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := r.client.ZRevRange(ctx, r.historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read override history: %w", err)
	}
	entries := make([]HistoryEntry, 0, len(raw))
	for _, data := range raw {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			r.log.Warn("skipping corrupt history entry", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// rollbackActor marks archives written by Rollback itself, so the chain
// scan can tell forward replacements from undo steps.
const rollbackActor = "rollback"

// Rollback restores the value category:key held before its current
// version and returns the restored override, or nil when no earlier
// version exists. The scan walks the bounded newest history page for the
// forward replacement that produced the current version and restores its
// archived value verbatim, archiving the value being rolled back from in
// the same pipeline. Restoring verbatim keeps the original version id,
// so repeated rollbacks walk further down the chain instead of
// ping-ponging between the last two values. The rolled-back-from value
// stays in history and can be re-applied from there.
func (r *Repository) Rollback(ctx context.Context, category, key string) (*Override, error) {
	entries, err := r.GetHistory(ctx, r.historyScan)
	if err != nil {
		return nil, err
	}

	current, found, err := r.Get(ctx, category, key)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Previous.Category != category || entry.Previous.Key != key {
			continue
		}
		if entry.ReplacedBy == rollbackActor {
			continue // undo steps are not part of the forward chain
		}
		if found && entry.NewVersionID != current.VersionID {
			continue
		}
		if err := r.restore(ctx, entry.Previous, found, current); err != nil {
			return nil, err
		}
		r.log.Info("rolled back override",
			zap.String("field", entry.Previous.Field()),
			zap.String("restored_version", entry.Previous.VersionID))
		restored := entry.Previous
		return &restored, nil
	}
	return nil, nil
}

// restore writes an archived override back as the current value,
// archiving whatever it replaces in the same pipeline.
func (r *Repository) restore(ctx context.Context, ov Override, hadCurrent bool, current Override) error {
	data, err := json.Marshal(ov)
	if err != nil {
		return fmt.Errorf("failed to marshal restored override: %w", err)
	}

	pipe := r.client.TxPipeline()
	if hadCurrent {
		entry := HistoryEntry{
			Previous:     current,
			ReplacedAt:   r.now().UTC(),
			ReplacedBy:   rollbackActor,
			NewVersionID: ov.VersionID,
		}
		archived, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal history entry: %w", err)
		}
		pipe.ZAdd(ctx, r.historyKey, goredis.Z{
			Score:  float64(entry.ReplacedAt.UnixMilli()),
			Member: string(archived),
		})
	}
	pipe.HSet(ctx, r.currentKey, ov.Field(), string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to restore override %q: %w", ov.Field(), err)
	}
	return nil
}

// Delete removes the current value only; history is never deleted here.
func (r *Repository) Delete(ctx context.Context, category, key string) (bool, error) {
	n, err := r.client.HDel(ctx, r.currentKey, category+":"+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete override %s:%s: %w", category, key, err)
	}
	return n == 1, nil
}
