package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pipepulse/pipepulse/pkg/types"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "builds.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func build(pipeline, status string, started time.Time) types.Build {
	return types.Build{
		Provider:  types.ProviderGitHub,
		Pipeline:  pipeline,
		Repo:      "acme/widgets",
		Branch:    "main",
		Status:    status,
		StartedAt: started,
	}
}

func TestAppend_AssignsIdentity(t *testing.T) {
	s := newTestStore(t)
	s.now = fixedClock(t0)

	stored, err := s.Append(context.Background(), build("deploy", types.StatusSuccess, t0))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if stored.ID == 0 {
		t.Error("ID: got 0, want assigned")
	}
	if !stored.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt: got %v, want %v", stored.CreatedAt, t0)
	}
}

func TestAppend_InsertionOrderIncreases(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Append(context.Background(), build("a", types.StatusSuccess, t0))
	if err != nil {
		t.Fatalf("Append a: %v", err)
	}
	b, err := s.Append(context.Background(), build("b", types.StatusFailure, t0))
	if err != nil {
		t.Fatalf("Append b: %v", err)
	}
	if b.ID <= a.ID {
		t.Errorf("insertion order: got a=%d b=%d, want b > a", a.ID, b.ID)
	}
}

func TestQuery_RoundTripsNullableFields(t *testing.T) {
	s := newTestStore(t)

	completed := t0.Add(2 * time.Minute)
	dur := 120.0
	in := build("deploy", types.StatusSuccess, t0)
	in.CompletedAt = &completed
	in.DurationSeconds = &dur
	in.URL = "https://ci.example.com/run/1"
	in.Logs = "ok"

	if _, err := s.Append(context.Background(), in); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Query: got %d builds, want 1", len(got))
	}
	b := got[0]
	if b.CompletedAt == nil || !b.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt: got %v, want %v", b.CompletedAt, completed)
	}
	if b.DurationSeconds == nil || *b.DurationSeconds != 120.0 {
		t.Errorf("DurationSeconds: got %v, want 120", b.DurationSeconds)
	}
	if b.URL != in.URL || b.Logs != "ok" {
		t.Errorf("URL/Logs: got %q / %q", b.URL, b.Logs)
	}
}

func TestQuery_NilNullableFields(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Append(context.Background(), build("x", types.StatusInProgress, t0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := s.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].CompletedAt != nil || got[0].DurationSeconds != nil {
		t.Errorf("nullable fields: got %v / %v, want nil / nil", got[0].CompletedAt, got[0].DurationSeconds)
	}
}

func TestQuery_OrderedByStartedAtDesc(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, offset := range []time.Duration{0, 2 * time.Hour, time.Hour} {
		if _, err := s.Append(ctx, build("p", types.StatusSuccess, t0.Add(offset))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Query: got %d builds, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartedAt.After(got[i-1].StartedAt) {
			t.Errorf("order: builds[%d] started %v after builds[%d] %v",
				i, got[i].StartedAt, i-1, got[i-1].StartedAt)
		}
	}
}

func TestQuery_TiesBrokenByInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Append(ctx, build("p", types.StatusFailure, t0))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := s.Append(ctx, build("p", types.StatusSuccess, t0))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].ID != second.ID || got[1].ID != first.ID {
		t.Errorf("tie order: got ids %d, %d; want %d, %d",
			got[0].ID, got[1].ID, second.ID, first.ID)
	}
}

func TestQuery_SinceCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := build("p", types.StatusSuccess, t0.Add(-48*time.Hour))
	recent := build("p", types.StatusFailure, t0)
	for _, b := range []types.Build{old, recent} {
		if _, err := s.Append(ctx, b); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Query(ctx, Filter{Since: t0.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Status != types.StatusFailure {
		t.Errorf("Since filter: got %d builds", len(got))
	}
}

func TestQuery_SinceCutoffSubSecond(t *testing.T) {
	// Timestamps with sub-second precision must still compare correctly
	// inside SQLite (fixed-width encoding).
	s := newTestStore(t)
	ctx := context.Background()

	early := build("p", types.StatusSuccess, t0.Add(500*time.Millisecond))
	late := build("p", types.StatusSuccess, t0.Add(1050*time.Millisecond))
	for _, b := range []types.Build{early, late} {
		if _, err := s.Append(ctx, b); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Query(ctx, Filter{Since: t0.Add(time.Second)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || !got[0].StartedAt.Equal(late.StartedAt) {
		t.Errorf("sub-second cutoff: got %d builds", len(got))
	}
}

func TestQuery_PipelineAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, build("wanted", types.StatusSuccess, t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := s.Append(ctx, build("other", types.StatusSuccess, t0)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Query(ctx, Filter{Pipeline: "wanted", Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Query: got %d builds, want 3", len(got))
	}
	for _, b := range got {
		if b.Pipeline != "wanted" {
			t.Errorf("Pipeline: got %q", b.Pipeline)
		}
	}
}

func TestConcurrentAppendsAndQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_, _ = s.Append(ctx, build("concurrent", types.StatusSuccess, t0.Add(time.Duration(n)*time.Second)))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Query(ctx, Filter{})
		}()
	}
	wg.Wait()

	got, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("Query after concurrent appends: got %d builds, want 20", len(got))
	}
}
