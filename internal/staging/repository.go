package staging

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

// MaxRecordSize caps the serialized record, bounding storage growth from
// adversarial input. Checked before any network call.
const MaxRecordSize = MaxContributionLength + 8*1024

// Repository persists staged contributions: the full record under an id
// key with a retention TTL, plus a created-at-scored index for paginated
// listing. Record and index are always written and removed together in
// one pipeline so they can never diverge.
type Repository struct {
	client   *redis.Client
	kb       *redis.KeyBuilder
	indexKey string
	ttl      time.Duration
	log      *zap.Logger
}

// NewRepository creates a staging repository with the given retention TTL
// for pending records (zero means the default 7 days).
func NewRepository(client *redis.Client, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = redis.TTLPending
	}
	kb := redis.NewKeyBuilder(redis.NamespacePending, redis.ContextCurator)
	return &Repository{
		client:   client,
		kb:       kb,
		indexKey: kb.BuildIndex("contribution"),
		ttl:      ttl,
		log:      client.Logger().With(zap.String("module", "staging")),
	}
}

// Save writes the record and its index entry in one pipeline.
func (r *Repository) Save(ctx context.Context, c Contribution) error {
	if c.ID == "" {
		return fmt.Errorf("contribution id is required")
	}
	if c.Contributor == "" {
		return fmt.Errorf("contribution contributor is required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contribution: %w", err)
	}
	if len(data) > MaxRecordSize {
		return fmt.Errorf("contribution %s exceeds record size cap (%d > %d)", c.ID, len(data), MaxRecordSize)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.kb.Build("contribution", c.ID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey, goredis.Z{
		Score:  float64(c.CreatedAt.UnixMilli()),
		Member: c.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("failed to save contribution", zap.String("id", c.ID), zap.Error(err))
		return fmt.Errorf("failed to save contribution %s: %w", c.ID, err)
	}

	r.log.Info("saved contribution", zap.String("id", c.ID), zap.String("status", string(c.Status)))
	return nil
}

// Get returns the staged contribution for id, or found=false when it has
// expired or never existed.
func (r *Repository) Get(ctx context.Context, id string) (Contribution, bool, error) {
	raw, err := r.client.Get(ctx, r.kb.Build("contribution", id)).Bytes()
	if err == goredis.Nil {
		return Contribution{}, false, nil
	}
	if err != nil {
		return Contribution{}, false, fmt.Errorf("failed to read contribution %s: %w", id, err)
	}
	var c Contribution
	if err := json.Unmarshal(raw, &c); err != nil {
		r.log.Warn("skipping corrupt contribution record", zap.String("id", id), zap.Error(err))
		return Contribution{}, false, nil
	}
	return c, true, nil
}

// Delete removes the record and its index entry in one pipeline. Returns
// whether the record existed, so duplicate resolutions of an already
// deleted contribution read as not-found.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.kb.Build("contribution", id))
	pipe.ZRem(ctx, r.indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("failed to delete contribution", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete contribution %s: %w", id, err)
	}
	return del.Val() == 1, nil
}

// List returns staged contributions most recent first, plus the total
// count from the index. Records that expired underneath their index entry
// or fail to parse are skipped, never fatal.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Contribution, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	total, err := r.client.ZCard(ctx, r.indexKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count contributions: %w", err)
	}

	ids, err := r.client.ZRevRange(ctx, r.indexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list contribution ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, int(total), nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.kb.Build("contribution", id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch contributions: %w", err)
	}

	items := make([]Contribution, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired record still indexed; self-heals on next delete.
			continue
		}
		var c Contribution
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			r.log.Warn("skipping corrupt contribution record", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		items = append(items, c)
	}
	return items, int(total), nil
}
