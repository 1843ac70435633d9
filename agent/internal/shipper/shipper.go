package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/pipepulse/pipepulse/agent/internal/collector"
	"github.com/pipepulse/pipepulse/agent/internal/config"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Shipper buffers collector events and POSTs them to the server's ingest
// endpoint. Ship() is non-blocking; when the buffer is full the oldest event
// is evicted. Run() must be called in a goroutine to drain the buffer and
// handle retry backoff.
type Shipper struct {
	serverURL string
	buf       chan collector.Event
	client    *http.Client // injectable for tests
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		buf:       make(chan collector.Event, cfg.BufferSize),
		client:    &http.Client{Timeout: sendTimeout},
	}
}

// Ship enqueues one event for delivery. If the buffer is full the oldest
// entry is evicted to make room.
func (s *Shipper) Ship(ev collector.Event) {
	select {
	case s.buf <- ev:
	default:
		// Buffer full — drop the oldest event, keep the newest.
		select {
		case <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest event",
				"pipeline", ev.Payload.Pipeline, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- ev
	}
}

// Run drains the buffer, sending events to the server. Transient failures
// (connectivity, 5xx) put the event back and back off exponentially;
// permanent rejections (4xx) are logged and discarded. Run blocks until ctx
// is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-s.buf:
			err := s.send(ctx, ev)
			if err == nil {
				bo.reset()
				slog.Debug("shipper: event delivered",
					"provider", ev.Provider, "pipeline", ev.Payload.Pipeline)
				continue
			}

			if isPermanent(err) {
				slog.Error("shipper: server rejected event, discarding",
					"provider", ev.Provider, "pipeline", ev.Payload.Pipeline, "err", err)
				continue
			}

			// Put the event back if there's room; otherwise it is lost and
			// the next poll cycle's data takes its place.
			select {
			case s.buf <- ev:
			default:
			}

			wait := bo.next()
			slog.Warn("shipper: delivery failed, backing off",
				"endpoint", s.serverURL, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// permanentError marks a delivery the server refused; retrying the same
// payload cannot succeed.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("server rejected with status %d: %s", e.status, e.body)
}

func isPermanent(err error) bool {
	_, ok := err.(*permanentError)
	return ok
}

// send POSTs one event to {serverURL}/ingest/{provider}.
func (s *Shipper) send(ctx context.Context, ev collector.Event) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return &permanentError{status: 0, body: fmt.Sprintf("marshal payload: %v", err)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	url := s.serverURL + "/ingest/" + ev.Provider
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &permanentError{status: resp.StatusCode, body: string(msg)}
	default:
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
