package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipepulse/pipepulse/server/internal/alerts"
	"github.com/pipepulse/pipepulse/server/internal/api"
	"github.com/pipepulse/pipepulse/server/internal/config"
	"github.com/pipepulse/pipepulse/server/internal/normalize"
	"github.com/pipepulse/pipepulse/server/internal/receiver"
	"github.com/pipepulse/pipepulse/server/internal/store"
	"github.com/pipepulse/pipepulse/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pipepulse-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"db_path", cfg.Server.DBPath,
		"ingest_rpm", cfg.Server.IngestRPM,
		"webhook_targets", len(cfg.Server.Alerts.Webhooks),
		"email_alerts", cfg.Server.Alerts.Email.Enabled(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Build history in SQLite (WAL mode).
	st, err := store.NewSQLite(cfg.Server.DBPath)
	if err != nil {
		slog.Error("failed to open build store", "path", cfg.Server.DBPath, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// Failure-alert delivery targets.
	notifier := alerts.NewNotifier(cfg.Server.Alerts)

	// WebSocket hub — broadcasts a notice to dashboards on every ingested build.
	hub := ws.New()
	go hub.Run(ctx)

	norm := &normalize.Normalizer{DefaultBranch: cfg.Server.DefaultBranch}
	svc := receiver.New(st, norm, hub, notifier)

	// Combined HTTP server: REST API + WebSocket + Prometheus metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/", api.New(svc, st, hub, cfg.Server))
	httpMux.Handle("/ws", hub)
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pipepulse-server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
