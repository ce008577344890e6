// Package curator orchestrates the contribution lifecycle: conflict
// detection on submission, staging, human resolution under a distributed
// lock, and the audit trail of every disposition.
package curator

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phonologic/curator/internal/audit"
	"github.com/phonologic/curator/internal/knowledge"
	"github.com/phonologic/curator/internal/override"
	"github.com/phonologic/curator/internal/staging"
	"github.com/phonologic/curator/pkg/metrics"
	"github.com/phonologic/curator/pkg/redis"
)

// Resolution actions.
const (
	ActionUpdate  = "update"
	ActionKeep    = "keep"
	ActionAddNote = "add_note"
	ActionClarify = "clarify"
)

// ErrRateLimited reports a read path refused by the rate limiter. Callers
// map it to a retry-later response, distinct from store failures.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config holds the business tuning of the lifecycle controller. These are
// configuration, not constants: the thresholds are operational choices.
type Config struct {
	ClarifyThreshold float64       // conflicts at or above this stage as needs_clarification
	LockTTL          time.Duration // must exceed one resolution with margin
	RateWindow       time.Duration
	SubmitMax        int // contribution writes per contributor per window
	QueryMax         int // read/list calls per contributor per window
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		ClarifyThreshold: 0.7,
		LockTTL:          redis.TTLLock,
		RateWindow:       redis.TTLRateLimit,
		SubmitMax:        10,
		QueryMax:         20,
	}
}

// SnapshotProvider yields a fresh knowledge snapshot per call.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) knowledge.Snapshot
}

// Result is the structured outcome of every public operation. Negative
// outcomes (not found, contention, rate limited, clarification needed)
// are values here, never errors; errors are reserved for store failures
// the caller must surface.
type Result struct {
	Accepted            bool               `json:"accepted"`
	Message             string             `json:"message"`
	Conflicts           []staging.Conflict `json:"conflicts,omitempty"`
	ClarificationNeeded bool               `json:"clarification_needed,omitempty"`
	ContributionID      string             `json:"contribution_id,omitempty"`
}

// Service is the contribution lifecycle controller. It is stateless per
// process: every read re-fetches from the shared store, so any number of
// instances can run behind a load balancer.
type Service struct {
	staging   *staging.Repository
	overrides *override.Repository
	auditLog  *audit.Log
	locks     *redis.LockManager
	limiter   *redis.RateLimiter
	detector  *Detector
	snapshots SnapshotProvider
	cfg       Config
	log       *zap.Logger
}

// NewService wires the lifecycle controller.
func NewService(
	stagingRepo *staging.Repository,
	overrides *override.Repository,
	auditLog *audit.Log,
	locks *redis.LockManager,
	limiter *redis.RateLimiter,
	snapshots SnapshotProvider,
	cfg Config,
	log *zap.Logger,
) *Service {
	if cfg.ClarifyThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		staging:   stagingRepo,
		overrides: overrides,
		auditLog:  auditLog,
		locks:     locks,
		limiter:   limiter,
		detector:  NewDetector(log),
		snapshots: snapshots,
		cfg:       cfg,
		log:       log.With(zap.String("module", "curator")),
	}
}

// Submit processes a natural-language contribution: validate and sanitize,
// detect conflicts against a fresh knowledge snapshot, and stage the
// result. With force set, conflicts are recorded but never block staging.
// The rate limiter fails closed here: if the store cannot be reached the
// write is refused.
func (s *Service) Submit(ctx context.Context, text, contributor string, force bool) (Result, error) {
	allowed, remaining, err := s.limiter.Check(ctx, "submit:"+contributor, s.cfg.SubmitMax, s.cfg.RateWindow)
	if err != nil {
		// Fail closed for writes: an unreachable store must not accept
		// contributions it cannot persist.
		return Result{Message: "Knowledge base is temporarily unavailable. Please try again."}, err
	}
	if !allowed {
		metrics.RateLimited.WithLabelValues("submit").Inc()
		return Result{Message: fmt.Sprintf("Rate limit exceeded. Please wait a moment. (%d requests remaining)", remaining)}, nil
	}

	c, err := staging.NewContribution(contributor, text)
	if err != nil {
		return Result{Message: err.Error()}, nil
	}

	start := time.Now()
	c.Conflicts = s.detector.Detect(ctx, c.RawInput, s.snapshots.Snapshot(ctx))
	metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	for _, conflict := range c.Conflicts {
		metrics.ConflictsDetectedTotal.WithLabelValues(string(conflict.Type)).Inc()
	}

	blocking := conflictsAbove(c.Conflicts, s.cfg.ClarifyThreshold)
	if !force && len(blocking) > 0 {
		c.Status = staging.StatusNeedsClarification
		c.CuratorResponse = buildConflictMessage(blocking)
		if err := s.staging.Save(ctx, c); err != nil {
			return Result{Message: "Failed to stage contribution."}, err
		}
		s.appendAudit(ctx, "contribution_staged", map[string]string{
			"id":        c.ID,
			"status":    string(c.Status),
			"conflicts": strconv.Itoa(len(c.Conflicts)),
		})
		metrics.ContributionsTotal.WithLabelValues(string(c.Status)).Inc()

		return Result{
			Message:             c.CuratorResponse,
			Conflicts:           blocking,
			ClarificationNeeded: true,
			ContributionID:      c.ID,
		}, nil
	}

	if err := s.staging.Save(ctx, c); err != nil {
		return Result{Message: "Failed to stage contribution."}, err
	}
	s.appendAudit(ctx, "contribution_staged", map[string]string{
		"id":        c.ID,
		"status":    string(c.Status),
		"conflicts": strconv.Itoa(len(c.Conflicts)),
	})
	metrics.ContributionsTotal.WithLabelValues(string(c.Status)).Inc()

	return Result{
		Accepted:       true,
		Message:        fmt.Sprintf("Staged for review. No blocking conflicts detected.\n\nContribution ID: %s", c.ID),
		Conflicts:      c.Conflicts,
		ContributionID: c.ID,
	}, nil
}

// Resolve applies a human decision to a staged contribution. The whole
// operation, including the staging lookup, runs under a lock scoped to
// the contribution id: a held lock means another resolution is in
// progress and nothing is mutated, and looking the record up only after
// acquiring means a stale copy observed before a competing resolution
// deleted it can never be re-applied. A contribution that has already
// been resolved (and therefore deleted from staging) reads as not found,
// so duplicate Resolve calls cannot re-apply a mutation.
func (s *Service) Resolve(ctx context.Context, id, action, clarification string) (Result, error) {
	resource := "resolve:" + id
	token, ok, err := s.locks.Acquire(ctx, resource, s.cfg.LockTTL)
	if err != nil {
		return Result{Message: "Knowledge base is temporarily unavailable. Please try again."}, err
	}
	if !ok {
		return Result{
			Message:        "Another operation is in progress for this contribution. Please try again.",
			ContributionID: id,
		}, nil
	}
	defer func() {
		if _, err := s.locks.Release(ctx, resource, token); err != nil {
			s.log.Warn("failed to release resolution lock", zap.String("id", id), zap.Error(err))
		}
	}()

	c, found, err := s.staging.Get(ctx, id)
	if err != nil {
		return Result{Message: "Knowledge base is temporarily unavailable. Please try again."}, err
	}
	if !found {
		return Result{
			Message:        fmt.Sprintf("Contribution %s not found. It may have expired or already been resolved.", id),
			ContributionID: id,
		}, nil
	}

	switch action {
	case ActionUpdate:
		return s.approve(ctx, c)
	case ActionKeep:
		return s.reject(ctx, c)
	case ActionAddNote:
		return s.addNote(ctx, c)
	case ActionClarify:
		return s.clarify(ctx, c, clarification)
	default:
		return Result{
			Message:        "Unknown action. Use: update, keep, add_note, or clarify.",
			ContributionID: c.ID,
		}, nil
	}
}

func (s *Service) approve(ctx context.Context, c staging.Contribution) (Result, error) {
	if err := c.Resolve(staging.StatusApproved); err != nil {
		return Result{Message: err.Error(), ContributionID: c.ID}, nil
	}

	rule := Classify(c.RawInput)
	versionID, err := s.overrides.Save(ctx, rule.Category, rule.KeyPrefix+"_"+c.ID, c.RawInput, c.Contributor, true)
	if err != nil {
		// Write failures are surfaced: silently losing an approved
		// knowledge mutation is unacceptable.
		return Result{Message: "Failed to persist the approved update.", ContributionID: c.ID}, err
	}

	if _, err := s.staging.Delete(ctx, c.ID); err != nil {
		return Result{Message: "Update persisted but unstaging failed; the item will expire on its own.", ContributionID: c.ID}, err
	}
	s.appendAudit(ctx, "contribution_approved", map[string]string{
		"id":          c.ID,
		"contributor": c.Contributor,
		"category":    rule.Category,
		"version_id":  versionID,
	})
	metrics.ResolutionsTotal.WithLabelValues(ActionUpdate).Inc()
	s.log.Info("approved contribution", zap.String("id", c.ID), zap.String("category", rule.Category))

	return Result{
		Accepted:       true,
		Message:        "Knowledge base updated. The change persists across restarts and is visible to all instances.",
		ContributionID: c.ID,
	}, nil
}

func (s *Service) reject(ctx context.Context, c staging.Contribution) (Result, error) {
	if err := c.Resolve(staging.StatusRejected); err != nil {
		return Result{Message: err.Error(), ContributionID: c.ID}, nil
	}

	if _, err := s.staging.Delete(ctx, c.ID); err != nil {
		return Result{Message: "Failed to discard the contribution."}, err
	}
	s.appendAudit(ctx, "contribution_rejected", map[string]string{
		"id":          c.ID,
		"contributor": c.Contributor,
	})
	metrics.ResolutionsTotal.WithLabelValues(ActionKeep).Inc()
	s.log.Info("rejected contribution", zap.String("id", c.ID))

	return Result{
		Message:        "Keeping existing information. The contribution was discarded.",
		ContributionID: c.ID,
	}, nil
}

func (s *Service) addNote(ctx context.Context, c staging.Contribution) (Result, error) {
	if err := c.Resolve(staging.StatusApproved); err != nil {
		return Result{Message: err.Error(), ContributionID: c.ID}, nil
	}

	// Notes land in the catch-all category under their own key, so they
	// never overwrite a structured field.
	versionID, err := s.overrides.Save(ctx, "recent_updates", "note_"+c.ID, "[Note] "+c.RawInput, c.Contributor, true)
	if err != nil {
		return Result{Message: "Failed to persist the note.", ContributionID: c.ID}, err
	}

	if _, err := s.staging.Delete(ctx, c.ID); err != nil {
		return Result{Message: "Note persisted but unstaging failed; the item will expire on its own.", ContributionID: c.ID}, err
	}
	s.appendAudit(ctx, "contribution_noted", map[string]string{
		"id":          c.ID,
		"contributor": c.Contributor,
		"version_id":  versionID,
	})
	metrics.ResolutionsTotal.WithLabelValues(ActionAddNote).Inc()

	return Result{
		Accepted:       true,
		Message:        "Added as a note. Existing information was not overwritten.",
		ContributionID: c.ID,
	}, nil
}

func (s *Service) clarify(ctx context.Context, c staging.Contribution, clarification string) (Result, error) {
	if strings.TrimSpace(clarification) == "" {
		return Result{
			Message:             "Please provide clarification about what you meant.",
			ClarificationNeeded: true,
			ContributionID:      c.ID,
		}, nil
	}

	// RawInput is stored escaped; undo that before recombining so Submit's
	// sanitization boundary does not escape it twice.
	combined := html.UnescapeString(c.RawInput) + "\n\nClarification: " + clarification
	metrics.ResolutionsTotal.WithLabelValues(ActionClarify).Inc()
	return s.Submit(ctx, combined, c.Contributor, false)
}

// ListPending returns staged contributions, most recent first. The rate
// limiter fails open on read paths: availability over strict fairness.
func (s *Service) ListPending(ctx context.Context, identity string, page, pageSize int) ([]staging.Contribution, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}

	allowed, _, err := s.limiter.Check(ctx, "list:"+identity, s.cfg.QueryMax, s.cfg.RateWindow)
	if err == nil && !allowed {
		metrics.RateLimited.WithLabelValues("list").Inc()
		return nil, 0, ErrRateLimited
	}

	return s.staging.List(ctx, pageSize, (page-1)*pageSize)
}

// GetHistory returns archived override versions, most recent first.
func (s *Service) GetHistory(ctx context.Context, limit int) ([]override.HistoryEntry, error) {
	return s.overrides.GetHistory(ctx, limit)
}

// GetOverrides returns the current overrides keyed by category:key.
func (s *Service) GetOverrides(ctx context.Context) (map[string]override.Override, error) {
	return s.overrides.GetAll(ctx)
}

// Rollback restores the most recent archived value for category:key.
// A nil override with nil error means no history exists for the field.
func (s *Service) Rollback(ctx context.Context, category, key string) (*override.Override, error) {
	restored, err := s.overrides.Rollback(ctx, category, key)
	if err != nil {
		return nil, err
	}
	if restored != nil {
		s.appendAudit(ctx, "override_rollback", map[string]string{
			"category":   category,
			"key":        key,
			"version_id": restored.VersionID,
		})
	}
	return restored, nil
}

// DeleteOverride removes a current override value; history is kept.
func (s *Service) DeleteOverride(ctx context.Context, category, key string) (bool, error) {
	deleted, err := s.overrides.Delete(ctx, category, key)
	if err != nil {
		return false, err
	}
	if deleted {
		s.appendAudit(ctx, "override_deleted", map[string]string{
			"category": category,
			"key":      key,
		})
	}
	return deleted, nil
}

// GetAuditLog returns recent audit entries, optionally filtered by action.
func (s *Service) GetAuditLog(ctx context.Context, limit int, actionFilter string) ([]audit.Entry, error) {
	return s.auditLog.List(ctx, limit, actionFilter)
}

// appendAudit records an action; audit failures are logged, never fatal.
func (s *Service) appendAudit(ctx context.Context, action string, data map[string]string) {
	if err := s.auditLog.Append(ctx, action, data); err != nil {
		s.log.Warn("failed to append audit entry", zap.String("action", action), zap.Error(err))
	}
}

// conflictsAbove filters conflicts at or above the threshold.
func conflictsAbove(conflicts []staging.Conflict, threshold float64) []staging.Conflict {
	var out []staging.Conflict
	for _, c := range conflicts {
		if c.Confidence >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// buildConflictMessage renders blocking conflicts for human display.
func buildConflictMessage(conflicts []staging.Conflict) string {
	var b strings.Builder
	b.WriteString("Potential conflicts with existing knowledge:\n\n")
	for i, c := range conflicts {
		switch c.Type {
		case staging.ConflictContradiction:
			fmt.Fprintf(&b, "%d. Contradiction in %s\n   You said: %s\n   Knowledge base says: %s\n   Confidence: %.0f%%\n\n",
				i+1, c.FieldPath, c.ProposedValue, c.ExistingValue, c.Confidence*100)
		case staging.ConflictDuplicate:
			fmt.Fprintf(&b, "%d. Possible duplicate of %s\n   Existing: %s\n\n",
				i+1, c.FieldPath, c.ExistingValue)
		default:
			fmt.Fprintf(&b, "%d. Update to %s\n   Current: %s\n   Proposed: %s\n\n",
				i+1, c.FieldPath, c.ExistingValue, c.ProposedValue)
		}
	}
	b.WriteString("Resolve with one of: update (replace existing), keep (discard input), add_note (append without replacing), clarify (provide more context).")
	return b.String()
}
