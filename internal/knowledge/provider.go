package knowledge

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/phonologic/curator/internal/override"
)

// OverrideSource yields the current approved overrides.
type OverrideSource interface {
	GetAll(ctx context.Context) (map[string]override.Override, error)
}

// Provider builds snapshots on demand. Every snapshot is a fresh merge of
// the baseline with the current overrides; nothing is cached in-process,
// so concurrent service instances always detect against the same state.
type Provider struct {
	overrides OverrideSource
	log       *zap.Logger
}

// NewProvider creates a snapshot provider over the given override source.
func NewProvider(overrides OverrideSource, log *zap.Logger) *Provider {
	return &Provider{
		overrides: overrides,
		log:       log.With(zap.String("module", "knowledge")),
	}
}

// Snapshot merges baseline knowledge with current overrides. If the store
// is unreachable the baseline alone is returned: detection is advisory and
// must not fail a submission.
func (p *Provider) Snapshot(ctx context.Context) Snapshot {
	snap := Baseline()

	all, err := p.overrides.GetAll(ctx)
	if err != nil {
		p.log.Warn("building snapshot without overrides", zap.Error(err))
		return snap
	}

	fields := make([]string, 0, len(all))
	for field := range all {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		ov := all[field]
		snap.Notes = append(snap.Notes, fmt.Sprintf("[%s] %s", ov.Contributor, ov.Value))
	}
	return snap
}
