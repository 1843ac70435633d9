package receiver

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pipepulse/pipepulse/pkg/types"
	"github.com/pipepulse/pipepulse/server/internal/alerts"
	"github.com/pipepulse/pipepulse/server/internal/normalize"
	"github.com/pipepulse/pipepulse/server/internal/store"
	"github.com/pipepulse/pipepulse/server/internal/ws"
)

// notifyTimeout bounds one asynchronous alert delivery. Detached from the
// request context so a fast ingestion response cannot cancel the delivery.
const notifyTimeout = 30 * time.Second

var (
	buildsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipepulse_builds_ingested_total",
		Help: "Builds persisted, by provider and canonical status",
	}, []string{"provider", "status"})

	alertsFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipepulse_alerts_fired_total",
		Help: "Failure alerts triggered by ingested builds",
	})
)

// Broadcaster fans a build notification out to connected observers.
type Broadcaster interface {
	Broadcast(ws.Notice)
}

// Notifier delivers a failure alert for a persisted build.
type Notifier interface {
	Notify(ctx context.Context, b types.Build) bool
}

// Service is the ingest orchestrator. For each payload it runs, strictly in
// order: normalize → persist → evaluate alert → broadcast. Validation and
// store failures are returned to the caller; alert and broadcast failures
// are contained downstream and never surface here.
type Service struct {
	store    store.Store
	norm     *normalize.Normalizer
	hub      Broadcaster
	notifier Notifier
}

// New creates a Service. notifier may be nil when alerting is unconfigured.
func New(st store.Store, norm *normalize.Normalizer, hub Broadcaster, notifier Notifier) *Service {
	return &Service{store: st, norm: norm, hub: hub, notifier: notifier}
}

// Ingest normalizes and persists one provider payload, then triggers the
// post-commit side effects. The returned build is the persisted record; it
// is returned on success regardless of whether alerting or broadcast
// succeed.
func (s *Service) Ingest(ctx context.Context, provider string, p types.IngestPayload) (types.Build, error) {
	b, err := s.norm.Normalize(provider, p)
	if err != nil {
		return types.Build{}, err
	}

	stored, err := s.store.Append(ctx, b)
	if err != nil {
		// Nothing was persisted downstream of the store: no alert, no broadcast.
		return types.Build{}, err
	}

	buildsIngestedTotal.WithLabelValues(stored.Provider, stored.Status).Inc()
	slog.Debug("receiver: build stored",
		"id", stored.ID,
		"provider", stored.Provider,
		"pipeline", stored.Pipeline,
		"status", stored.Status,
	)

	// Post-commit hooks. The alert decision is made exactly once, here;
	// delivery runs detached so a slow webhook cannot stall ingestion.
	if alerts.ShouldAlert(stored) && s.notifier != nil {
		alertsFiredTotal.Inc()
		go func(b types.Build) {
			nctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if !s.notifier.Notify(nctx, b) {
				slog.Warn("receiver: failure alert not delivered",
					"pipeline", b.Pipeline, "repo", b.Repo)
			}
		}(stored)
	}

	s.hub.Broadcast(ws.Notice{
		Pipeline: stored.Pipeline,
		Repo:     stored.Repo,
		Status:   stored.Status,
		Provider: stored.Provider,
	})

	return stored, nil
}
