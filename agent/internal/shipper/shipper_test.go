package shipper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pipepulse/pipepulse/agent/internal/collector"
	"github.com/pipepulse/pipepulse/agent/internal/config"
	"github.com/pipepulse/pipepulse/pkg/types"
)

func event(pipeline string) collector.Event {
	return collector.Event{
		Provider: types.ProviderGitHub,
		Payload: types.IngestPayload{
			Pipeline:  pipeline,
			Repo:      "acme/widgets",
			Branch:    "main",
			Status:    types.StatusSuccess,
			StartedAt: time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC),
		},
	}
}

// ingestRecorder is an httptest handler that records received payloads.
type ingestRecorder struct {
	mu       sync.Mutex
	paths    []string
	payloads []types.IngestPayload
	status   int
}

func (rec *ingestRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var p types.IngestPayload
	json.NewDecoder(r.Body).Decode(&p) //nolint:errcheck
	rec.paths = append(rec.paths, r.URL.Path)
	rec.payloads = append(rec.payloads, p)
	status := rec.status
	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
}

func (rec *ingestRecorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newShipper(serverURL string, bufSize int) *Shipper {
	return New(config.AgentConfig{ServerURL: serverURL, BufferSize: bufSize})
}

func TestRun_DeliversToProviderRoute(t *testing.T) {
	rec := &ingestRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s := newShipper(srv.URL, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Ship(event("deploy"))
	waitFor(t, func() bool { return rec.count() == 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.paths[0] != "/ingest/github" {
		t.Errorf("path: got %q, want /ingest/github", rec.paths[0])
	}
	if rec.payloads[0].Pipeline != "deploy" {
		t.Errorf("payload: got %+v", rec.payloads[0])
	}
}

func TestShip_BufferFullDropsOldest(t *testing.T) {
	// No Run loop — the buffer only fills.
	s := newShipper("http://localhost:0", 2)

	s.Ship(event("a"))
	s.Ship(event("b"))
	s.Ship(event("c")) // evicts "a"

	got := []string{(<-s.buf).Payload.Pipeline, (<-s.buf).Payload.Pipeline}
	if got[0] != "b" || got[1] != "c" {
		t.Errorf("buffer after eviction: got %v, want [b c]", got)
	}
}

func TestRun_PermanentRejectionDiscarded(t *testing.T) {
	rec := &ingestRecorder{status: http.StatusBadRequest}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s := newShipper(srv.URL, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Ship(event("bad"))
	waitFor(t, func() bool { return rec.count() == 1 })

	// Rejected events are not retried.
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("deliveries: got %d, want 1 (no retry of a 400)", rec.count())
	}
	if len(s.buf) != 0 {
		t.Errorf("buffer: got %d queued, want 0", len(s.buf))
	}
}

func TestRun_TransientFailureRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := newShipper(srv.URL, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Ship(event("retry-me"))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	})
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := newShipper("http://localhost:0", 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBackoff_GrowsAndResets(t *testing.T) {
	bo := newBackoff()

	first := bo.next()
	if first > backoffInitial+backoffInitial/4 {
		t.Errorf("first backoff: got %v, want about %v", first, backoffInitial)
	}

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = bo.next()
	}
	if last > backoffMax+backoffMax/4 {
		t.Errorf("backoff exceeded cap with jitter: %v", last)
	}

	bo.reset()
	if bo.current != backoffInitial {
		t.Errorf("after reset: got %v, want %v", bo.current, backoffInitial)
	}
}

func TestPermanentError_Detection(t *testing.T) {
	if !isPermanent(&permanentError{status: 400, body: "bad"}) {
		t.Error("permanentError not detected")
	}
	if isPermanent(fmt.Errorf("dial tcp: refused")) {
		t.Error("transient error misclassified as permanent")
	}
}
