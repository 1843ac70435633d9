package metrics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pipepulse/pipepulse/pkg/types"
)

// DefaultWindow is applied when a caller omits the window parameter
// entirely. A malformed window is never replaced by it.
const DefaultWindow = 7 * 24 * time.Hour

// Summary is the windowed health snapshot computed over a set of builds.
// It is recomputed on every request and never persisted.
type Summary struct {
	// Window is the descriptor the caller supplied ("24h", "7d").
	Window string `json:"window"`

	// SuccessRate and FailureRate are percentages in [0, 100] over the
	// windowed builds. Both are 0.0 when the window is empty.
	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`

	// AvgBuildTime is the mean of all non-null durations in the window,
	// in seconds. Nil when no windowed build carries a duration.
	AvgBuildTime *float64 `json:"avg_build_time"`

	// LastStatusByPipeline maps each pipeline to the status of its
	// most-recently-started build in the window.
	LastStatusByPipeline map[string]string `json:"last_status_by_pipeline"`
}

// ParseWindow parses a trailing-interval descriptor: a positive integer
// magnitude with an "h" (hours) or "d" (days) suffix. Anything else is a
// caller error — the default window is applied only on a fully omitted
// parameter, never on garbage.
func ParseWindow(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("metrics: invalid window %q: want <magnitude>h or <magnitude>d", s)
	}
	mag, err := strconv.Atoi(strings.TrimSpace(s[:len(s)-1]))
	if err != nil || mag <= 0 {
		return 0, fmt.Errorf("metrics: invalid window magnitude in %q", s)
	}
	switch s[len(s)-1] {
	case 'h':
		return time.Duration(mag) * time.Hour, nil
	case 'd':
		return time.Duration(mag) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("metrics: invalid window unit in %q: want h or d", s)
	}
}

// Summarize computes a Summary over the builds whose started_at falls inside
// the trailing window ending at now. It is read-only, idempotent, and a
// single O(n) pass.
//
// For last_status_by_pipeline, a pipeline's entry is replaced only by a
// strictly later started_at — the first-seen build wins a tie. Callers that
// want "latest insertion wins" on equal timestamps feed builds in the
// store's query order (started_at desc, insertion desc), where the tied
// build seen first is the one inserted last.
func Summarize(builds []types.Build, window time.Duration, label string, now time.Time) Summary {
	cutoff := now.Add(-window)

	sum := Summary{
		Window:               label,
		LastStatusByPipeline: make(map[string]string),
	}

	var (
		total, succeeded, failed int
		durTotal                 float64
		durCount                 int
		lastStarted              = make(map[string]time.Time)
	)

	for _, b := range builds {
		if b.StartedAt.Before(cutoff) {
			continue
		}
		total++

		switch b.Status {
		case types.StatusSuccess:
			succeeded++
		case types.StatusFailure:
			failed++
		}

		if b.DurationSeconds != nil {
			durTotal += *b.DurationSeconds
			durCount++
		}

		prev, seen := lastStarted[b.Pipeline]
		if !seen || b.StartedAt.After(prev) {
			lastStarted[b.Pipeline] = b.StartedAt
			sum.LastStatusByPipeline[b.Pipeline] = b.Status
		}
	}

	if total > 0 {
		sum.SuccessRate = float64(succeeded) / float64(total) * 100.0
		sum.FailureRate = float64(failed) / float64(total) * 100.0
	}
	if durCount > 0 {
		avg := durTotal / float64(durCount)
		sum.AvgBuildTime = &avg
	}
	return sum
}
