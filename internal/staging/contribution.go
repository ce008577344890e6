// Package staging holds proposed knowledge contributions in a store
// separate from the authoritative knowledge base until a human approves
// or rejects them.
package staging

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxContributionLength is the hard ceiling on contribution text. Applied
// at construction time, which is the only sanitization boundary for
// untrusted text entering the store.
const MaxContributionLength = 10 * 1024

// PreviewLength bounds the existing/proposed value snapshots shown to a
// human when displaying a conflict.
const PreviewLength = 240

// Status is a contribution's lifecycle state.
type Status string

const (
	StatusPending            Status = "pending"
	StatusNeedsClarification Status = "needs_clarification"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ConflictType classifies how a contribution disagrees with existing knowledge.
type ConflictType string

const (
	// ConflictUpdate is probably just stale data.
	ConflictUpdate ConflictType = "update"
	// ConflictContradiction is a claim that is actively false against known data.
	ConflictContradiction ConflictType = "contradiction"
	// ConflictDuplicate is near-identical to existing content.
	ConflictDuplicate ConflictType = "duplicate"
)

// Conflict is evidence that a contribution disagrees with existing knowledge.
type Conflict struct {
	FieldPath     string       `json:"field_path"`
	ExistingValue string       `json:"existing_value"`
	ProposedValue string       `json:"proposed_value"`
	Type          ConflictType `json:"conflict_type"`
	Confidence    float64      `json:"confidence"`
}

// Preview truncates a value to the bounded display length.
func Preview(s string) string {
	return truncate(s, PreviewLength)
}

// truncate caps s at n bytes, backing off to a rune boundary so the cut
// never stores invalid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Contribution is a unit of proposed knowledge awaiting resolution.
type Contribution struct {
	ID              string     `json:"id"`
	Contributor     string     `json:"contributor"`
	RawInput        string     `json:"raw_input"`
	Conflicts       []Conflict `json:"conflicts"`
	Status          Status     `json:"status"`
	CuratorResponse string     `json:"curator_response,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// NewContribution builds a sanitized contribution. The contributor must
// come from an authenticated context, never from a client payload, to
// prevent attribution spoofing. Raw input is HTML-escaped and capped here.
func NewContribution(contributor, rawInput string) (Contribution, error) {
	if strings.TrimSpace(contributor) == "" {
		return Contribution{}, fmt.Errorf("contributor is required")
	}
	if strings.TrimSpace(rawInput) == "" {
		return Contribution{}, fmt.Errorf("contribution text is required")
	}

	sanitized := html.EscapeString(rawInput)
	if len(sanitized) > MaxContributionLength {
		sanitized = truncate(sanitized, MaxContributionLength)
		// The cut must not sever an escape sequence like "&amp;" either.
		if i := strings.LastIndexByte(sanitized, '&'); i >= 0 && len(sanitized)-i < 6 && !strings.ContainsRune(sanitized[i:], ';') {
			sanitized = sanitized[:i]
		}
	}

	now := time.Now().UTC()
	return Contribution{
		ID:          newContributionID(now),
		Contributor: contributor,
		RawInput:    sanitized,
		Status:      StatusPending,
		CreatedAt:   now,
	}, nil
}

// Resolve moves the contribution to a terminal status. Terminal statuses
// never revert.
func (c *Contribution) Resolve(status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	if c.Status.Terminal() {
		return fmt.Errorf("contribution %s already resolved as %q", c.ID, c.Status)
	}
	now := time.Now().UTC()
	c.Status = status
	c.ResolvedAt = &now
	return nil
}

// newContributionID derives a globally unique id from a full random UUID.
// The UUID is never truncated: truncation risks birthday-paradox
// collisions under load.
func newContributionID(now time.Time) string {
	return fmt.Sprintf("contrib_%s_%s",
		now.Format("20060102_150405"),
		strings.ReplaceAll(uuid.NewString(), "-", ""))
}
