package types

import "time"

// Provider identifiers accepted by the ingest endpoints.
const (
	ProviderGitHub  = "github"
	ProviderJenkins = "jenkins"
)

// Canonical build statuses. Provider adapters must map every native
// completion code to exactly one of these before handoff; anything
// non-terminal or unrecognized maps to StatusInProgress.
const (
	StatusSuccess    = "success"
	StatusFailure    = "failure"
	StatusCancelled  = "cancelled"
	StatusInProgress = "in_progress"
)

// ValidStatus reports whether s is one of the four canonical statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusCancelled, StatusInProgress:
		return true
	}
	return false
}

// ValidProvider reports whether p is a known provider identifier.
func ValidProvider(p string) bool {
	return p == ProviderGitHub || p == ProviderJenkins
}

// IngestPayload is the normalized-ready record a provider adapter hands to
// the server. It carries no identity — the store assigns one on append.
type IngestPayload struct {
	Pipeline string `json:"pipeline"`
	Repo     string `json:"repo"`
	Branch   string `json:"branch"`
	Status   string `json:"status"`

	// StartedAt is required. A zero value is a validation failure.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is nil while the build is still running.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DurationSeconds, when set, is trusted over the timestamp delta.
	// Adapters are responsible for converting provider units to seconds.
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`

	URL  string `json:"url,omitempty"`
	Logs string `json:"logs,omitempty"`
}

// Build is one persisted pipeline execution in canonical form. Immutable
// after append — there is no update or delete path.
type Build struct {
	// ID is assigned by the store and doubles as the insertion order:
	// a higher ID was appended later.
	ID int64 `json:"id"`

	Provider string `json:"provider"`
	Pipeline string `json:"pipeline"`
	Repo     string `json:"repo"`
	Branch   string `json:"branch"`
	Status   string `json:"status"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`

	URL  string `json:"url,omitempty"`
	Logs string `json:"logs,omitempty"`

	// CreatedAt is the insertion timestamp, distinct from StartedAt.
	CreatedAt time.Time `json:"created_at"`
}
