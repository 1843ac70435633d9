package receiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pipepulse/pipepulse/pkg/types"
	"github.com/pipepulse/pipepulse/server/internal/normalize"
	"github.com/pipepulse/pipepulse/server/internal/store"
	"github.com/pipepulse/pipepulse/server/internal/ws"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// --- fakes ------------------------------------------------------------------

// fakeStore is an in-memory Store that can be forced to fail.
type fakeStore struct {
	mu     sync.Mutex
	builds []types.Build
	err    error
}

func (f *fakeStore) Append(_ context.Context, b types.Build) (types.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.Build{}, f.err
	}
	b.ID = int64(len(f.builds) + 1)
	b.CreatedAt = t0
	f.builds = append(f.builds, b)
	return b, nil
}

func (f *fakeStore) Query(context.Context, store.Filter) ([]types.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Build(nil), f.builds...), nil
}

// fakeHub records broadcasts.
type fakeHub struct {
	mu      sync.Mutex
	notices []ws.Notice
}

func (f *fakeHub) Broadcast(n ws.Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
}

func (f *fakeHub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

// fakeNotifier signals each delivery on a channel.
type fakeNotifier struct {
	calls chan types.Build
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{calls: make(chan types.Build, 8)}
}

func (f *fakeNotifier) Notify(_ context.Context, b types.Build) bool {
	f.calls <- b
	return true
}

// --- helpers ----------------------------------------------------------------

func newService(st store.Store, hub *fakeHub, nf Notifier) *Service {
	return New(st, &normalize.Normalizer{DefaultBranch: "main"}, hub, nf)
}

func payload(status string) types.IngestPayload {
	return types.IngestPayload{
		Pipeline:  "deploy",
		Repo:      "acme/widgets",
		Branch:    "main",
		Status:    status,
		StartedAt: t0,
	}
}

func waitForAlert(t *testing.T, nf *fakeNotifier) types.Build {
	t.Helper()
	select {
	case b := <-nf.calls:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert delivery")
		return types.Build{}
	}
}

// --- tests ------------------------------------------------------------------

func TestIngest_SuccessfulBuild(t *testing.T) {
	st := &fakeStore{}
	hub := &fakeHub{}
	nf := newFakeNotifier()
	svc := newService(st, hub, nf)

	p := payload(types.StatusSuccess)
	completed := t0.Add(2 * time.Minute)
	p.CompletedAt = &completed

	stored, err := svc.Ingest(context.Background(), types.ProviderGitHub, p)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.ID == 0 {
		t.Error("ID: got 0, want assigned")
	}
	if stored.DurationSeconds == nil || *stored.DurationSeconds != 120.0 {
		t.Errorf("DurationSeconds: got %v, want 120", stored.DurationSeconds)
	}

	if hub.count() != 1 {
		t.Fatalf("broadcasts: got %d, want 1", hub.count())
	}
	want := ws.Notice{Pipeline: "deploy", Repo: "acme/widgets", Status: "success", Provider: "github"}
	if hub.notices[0] != want {
		t.Errorf("notice: got %+v, want %+v", hub.notices[0], want)
	}

	// No alert for a success.
	select {
	case b := <-nf.calls:
		t.Errorf("unexpected alert for %+v", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngest_FailureTriggersAlertOnce(t *testing.T) {
	st := &fakeStore{}
	hub := &fakeHub{}
	nf := newFakeNotifier()
	svc := newService(st, hub, nf)

	p := payload(types.StatusFailure)
	p.URL = "https://jenkins.example.com/job/deploy/9"
	p.Logs = "exit 1"

	stored, err := svc.Ingest(context.Background(), types.ProviderJenkins, p)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored.DurationSeconds != nil {
		t.Errorf("DurationSeconds: got %v, want nil (no completed_at)", *stored.DurationSeconds)
	}

	alerted := waitForAlert(t, nf)
	if alerted.ID != stored.ID || alerted.URL != p.URL || alerted.Logs != "exit 1" {
		t.Errorf("alerted build: got %+v", alerted)
	}

	// Exactly once.
	select {
	case b := <-nf.calls:
		t.Errorf("second alert delivered: %+v", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngest_ValidationErrorStopsEverything(t *testing.T) {
	st := &fakeStore{}
	hub := &fakeHub{}
	nf := newFakeNotifier()
	svc := newService(st, hub, nf)

	p := payload("")
	_, err := svc.Ingest(context.Background(), types.ProviderGitHub, p)

	var fe *normalize.FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldError, got %v", err)
	}
	if len(st.builds) != 0 {
		t.Error("store: nothing must be persisted on validation failure")
	}
	if hub.count() != 0 {
		t.Error("hub: nothing must be broadcast on validation failure")
	}
}

func TestIngest_StoreErrorStopsSideEffects(t *testing.T) {
	st := &fakeStore{err: errors.New("disk full")}
	hub := &fakeHub{}
	nf := newFakeNotifier()
	svc := newService(st, hub, nf)

	_, err := svc.Ingest(context.Background(), types.ProviderGitHub, payload(types.StatusFailure))
	if err == nil {
		t.Fatal("Ingest: expected store error")
	}
	if hub.count() != 0 {
		t.Error("hub: no broadcast after store failure")
	}
	select {
	case b := <-nf.calls:
		t.Errorf("alert after store failure: %+v", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngest_NilNotifierTolerated(t *testing.T) {
	st := &fakeStore{}
	hub := &fakeHub{}
	svc := newService(st, hub, nil)

	if _, err := svc.Ingest(context.Background(), types.ProviderGitHub, payload(types.StatusFailure)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if hub.count() != 1 {
		t.Errorf("broadcasts: got %d, want 1", hub.count())
	}
}

func TestIngest_ConcurrentIngestion(t *testing.T) {
	st := &fakeStore{}
	hub := &fakeHub{}
	svc := newService(st, hub, nil)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := payload(types.StatusSuccess)
			p.StartedAt = t0.Add(time.Duration(n) * time.Second)
			if _, err := svc.Ingest(context.Background(), types.ProviderGitHub, p); err != nil {
				t.Errorf("Ingest %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if len(st.builds) != 25 {
		t.Errorf("store: got %d builds, want 25", len(st.builds))
	}
	if hub.count() != 25 {
		t.Errorf("broadcasts: got %d, want 25", hub.count())
	}
}
