package store

import (
	"context"
	"time"

	"github.com/pipepulse/pipepulse/pkg/types"
)

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	// Pipeline restricts results to one pipeline name.
	Pipeline string

	// Since restricts results to builds with started_at >= Since.
	Since time.Time

	// Limit caps the number of returned builds. Zero means no limit.
	Limit int
}

// Store is the append-and-query contract over canonical builds.
//
// Append assigns the build its identity and insertion timestamp and returns
// the stored record. Query returns builds ordered by started_at descending,
// ties broken by insertion order (latest first). Each call observes a
// consistent snapshot — a query never sees a partially-written build — but
// no consistency is promised across calls.
type Store interface {
	Append(ctx context.Context, b types.Build) (types.Build, error)
	Query(ctx context.Context, f Filter) ([]types.Build, error)
}
