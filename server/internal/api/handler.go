package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/pipepulse/pipepulse/pkg/types"
	"github.com/pipepulse/pipepulse/server/internal/config"
	"github.com/pipepulse/pipepulse/server/internal/metrics"
	"github.com/pipepulse/pipepulse/server/internal/normalize"
	"github.com/pipepulse/pipepulse/server/internal/receiver"
	"github.com/pipepulse/pipepulse/server/internal/store"
)

// defaultListLimit caps GET /api/v1/builds when the caller omits limit.
const defaultListLimit = 50

// SubscriberCounter reports how many live observers are connected.
type SubscriberCounter interface {
	Count() int
}

// Handler is the HTTP handler for the ingest and query endpoints.
type Handler struct {
	svc  *receiver.Service
	st   store.Store
	subs SubscriberCounter
	mux  *chi.Mux
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Handler wired to the ingest service and store, and registers
// all routes with the canonical middleware stack.
func New(svc *receiver.Service, st store.Store, subs SubscriberCounter, cfg config.ServerConfig) *Handler {
	h := &Handler{
		svc:  svc,
		st:   st,
		subs: subs,
		mux:  chi.NewRouter(),
		now:  time.Now,
	}

	h.mux.Use(chimw.Recoverer)
	h.mux.Use(chimw.RequestID)
	h.mux.Use(requestMetrics())
	if len(cfg.AllowOrigins) > 0 {
		h.mux.Use(cors(cfg.AllowOrigins))
	}

	// Write path: providers and webhooks, rate limited per client IP.
	h.mux.Group(func(r chi.Router) {
		if cfg.IngestRPM > 0 {
			r.Use(httprate.LimitByIP(cfg.IngestRPM, time.Minute))
		}
		r.Post("/ingest/{provider}", h.ingest)
		r.Post("/webhook/github", h.webhookGitHub)
		r.Post("/webhook/jenkins", h.webhookJenkins)
	})

	// Read path.
	h.mux.Get("/api/v1/builds", h.listBuilds)
	h.mux.Get("/api/v1/builds/latest", h.latestBuild)
	h.mux.Get("/api/v1/metrics/summary", h.metricsSummary)
	h.mux.Get("/api/v1/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// ingest handles POST /ingest/{provider} — a normalized-ready payload from a
// provider adapter. Returns the persisted canonical build.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !types.ValidProvider(provider) {
		jsonErr(w, http.StatusNotFound, errorResponse{Error: "unknown provider " + provider})
		return
	}

	var p types.IngestPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		jsonErr(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}

	h.runIngest(w, r, provider, p)
}

// runIngest calls the ingest service and writes the response, mapping the
// error taxonomy to status codes: validation → 400, store → 500.
func (h *Handler) runIngest(w http.ResponseWriter, r *http.Request, provider string, p types.IngestPayload) {
	stored, err := h.svc.Ingest(r.Context(), provider, p)
	if err != nil {
		var fe *normalize.FieldError
		if errors.As(err, &fe) {
			jsonErr(w, http.StatusBadRequest, errorResponse{
				Error:  fe.Error(),
				Field:  fe.Field,
				Reason: fe.Reason,
			})
			return
		}
		slog.Error("api: ingest failed", "provider", provider, "err", err)
		jsonErr(w, http.StatusInternalServerError, errorResponse{Error: "persist build: " + err.Error()})
		return
	}

	jsonResp(w, http.StatusCreated, stored)
}

// listBuilds handles GET /api/v1/builds?limit= — most recent builds first.
func (h *Handler) listBuilds(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, errorResponse{Error: "invalid limit " + raw})
			return
		}
		limit = n
	}

	builds, err := h.st.Query(r.Context(), store.Filter{Limit: limit})
	if err != nil {
		slog.Error("api: list builds", "err", err)
		jsonErr(w, http.StatusInternalServerError, errorResponse{Error: "query builds"})
		return
	}
	if builds == nil {
		builds = []types.Build{}
	}
	jsonResp(w, http.StatusOK, builds)
}

// latestBuild handles GET /api/v1/builds/latest?pipeline= — the most recent
// build, optionally scoped to one pipeline.
func (h *Handler) latestBuild(w http.ResponseWriter, r *http.Request) {
	f := store.Filter{Limit: 1, Pipeline: r.URL.Query().Get("pipeline")}

	builds, err := h.st.Query(r.Context(), f)
	if err != nil {
		slog.Error("api: latest build", "err", err)
		jsonErr(w, http.StatusInternalServerError, errorResponse{Error: "query builds"})
		return
	}
	if len(builds) == 0 {
		jsonErr(w, http.StatusNotFound, errorResponse{Error: "no builds found"})
		return
	}
	jsonResp(w, http.StatusOK, builds[0])
}

// metricsSummary handles GET /api/v1/metrics/summary?window= — the rolling
// health snapshot. An omitted window means 7 days; a malformed one is the
// caller's error.
func (h *Handler) metricsSummary(w http.ResponseWriter, r *http.Request) {
	window := metrics.DefaultWindow
	label := "7d"

	if raw := r.URL.Query().Get("window"); raw != "" {
		var err error
		window, err = metrics.ParseWindow(raw)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "window", Reason: "invalid"})
			return
		}
		label = raw
	}

	now := h.now().UTC()
	builds, err := h.st.Query(r.Context(), store.Filter{Since: now.Add(-window)})
	if err != nil {
		slog.Error("api: metrics summary", "err", err)
		jsonErr(w, http.StatusInternalServerError, errorResponse{Error: "query builds"})
		return
	}

	jsonResp(w, http.StatusOK, metrics.Summarize(builds, window, label, now))
}

// health handles GET /api/v1/health — liveness plus a 24h status breakdown.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	resp := healthResponse{
		Status:  "ok",
		Service: "pipepulse-server",
		Time:    now.Format(time.RFC3339),
	}
	if h.subs != nil {
		resp.Subscribers = h.subs.Count()
	}

	builds, err := h.st.Query(r.Context(), store.Filter{Since: now.Add(-24 * time.Hour)})
	if err != nil {
		resp.Status = "degraded"
		slog.Error("api: health query", "err", err)
		jsonResp(w, http.StatusOK, resp)
		return
	}

	resp.BuildsLast24h = len(builds)
	for _, b := range builds {
		switch b.Status {
		case types.StatusSuccess:
			resp.SuccessLast24h++
		case types.StatusFailure:
			resp.FailureLast24h++
		case types.StatusInProgress:
			resp.RunningLast24h++
		case types.StatusCancelled:
			resp.CancelledLast24++
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, e errorResponse) {
	jsonResp(w, code, e)
}
