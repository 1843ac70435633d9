package normalize

import (
	"fmt"

	"github.com/pipepulse/pipepulse/pkg/types"
)

// Reasons carried by a FieldError.
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
)

// FieldError describes a structural problem with one field of an ingest
// payload. It is returned before anything is persisted.
type FieldError struct {
	Field  string
	Reason string
	Detail string
}

func (e *FieldError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("field %q %s: %s", e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("field %q %s", e.Field, e.Reason)
}

// fallback is substituted for identity fields the adapter could not determine.
const fallback = "unknown"

// Normalizer converts provider ingest payloads into canonical build records.
// The zero value is usable; DefaultBranch customizes the branch fallback.
type Normalizer struct {
	// DefaultBranch is substituted when the payload omits the branch.
	// Empty means the generic "unknown" fallback is used instead.
	DefaultBranch string
}

// Normalize maps a provider payload to a canonical build. It is a pure
// transform: no I/O, and the only errors are structural.
//
// Identity fields (pipeline, repo, branch) are best-effort — a missing value
// is substituted, never rejected. Status and started_at are hard
// requirements. Unknown status values are rejected here: mapping
// provider-native codes to the canonical enum is the adapter's job, and raw
// codes must never pass through.
func (n *Normalizer) Normalize(provider string, p types.IngestPayload) (types.Build, error) {
	if p.Status == "" {
		return types.Build{}, &FieldError{Field: "status", Reason: ReasonMissing}
	}
	if !types.ValidStatus(p.Status) {
		return types.Build{}, &FieldError{
			Field:  "status",
			Reason: ReasonInvalid,
			Detail: fmt.Sprintf("%q is not a canonical status", p.Status),
		}
	}
	if p.StartedAt.IsZero() {
		return types.Build{}, &FieldError{Field: "started_at", Reason: ReasonMissing}
	}

	b := types.Build{
		Provider:        provider,
		Pipeline:        orFallback(p.Pipeline, fallback),
		Repo:            orFallback(p.Repo, fallback),
		Branch:          orFallback(p.Branch, orFallback(n.DefaultBranch, fallback)),
		Status:          p.Status,
		StartedAt:       p.StartedAt,
		CompletedAt:     p.CompletedAt,
		DurationSeconds: deriveDuration(p),
		URL:             p.URL,
		Logs:            p.Logs,
	}
	return b, nil
}

// deriveDuration picks the explicit duration when the adapter supplied one,
// otherwise computes completed−started. Negative values are clamped to nil
// so they cannot corrupt aggregate averages.
func deriveDuration(p types.IngestPayload) *float64 {
	if p.DurationSeconds != nil {
		if *p.DurationSeconds < 0 {
			return nil
		}
		d := *p.DurationSeconds
		return &d
	}
	if p.CompletedAt == nil {
		return nil
	}
	d := p.CompletedAt.Sub(p.StartedAt).Seconds()
	if d < 0 {
		return nil
	}
	return &d
}

func orFallback(v, fb string) string {
	if v == "" {
		return fb
	}
	return v
}
