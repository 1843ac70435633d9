package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipepulse/pipepulse/agent/internal/collector"
	"github.com/pipepulse/pipepulse/agent/internal/config"
	"github.com/pipepulse/pipepulse/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pipepulse-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_url", cfg.Agent.ServerURL,
		"sources", len(cfg.Agent.Sources),
		"poll_interval", cfg.Agent.PollInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Build collector instances from the initial config.
	// Hot-reload updates logging only; rebuilding collectors on reload is
	// tracked as a followup.
	type pipeline struct {
		src config.Source
		c   collector.Collector
	}
	var pipelines []pipeline
	for _, src := range cfg.Agent.Sources {
		c, err := collector.New(src)
		if err != nil {
			slog.Error("skipping source — could not build collector", "source", src.ID, "err", err)
			continue
		}
		pipelines = append(pipelines, pipeline{src: src, c: c})
		slog.Info("registered source", "id", src.ID, "type", src.Type)
	}

	if len(pipelines) == 0 {
		slog.Warn("no sources configured — agent will idle")
	}

	// Watch config file for hot-reload (logs only in this phase).
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			slog.Info("config hot-reloaded", "sources", len(updated.Agent.Sources))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Start the HTTP shipper — runs until ctx is cancelled.
	ship := shipper.New(cfg.Agent)
	go ship.Run(ctx)

	// Poll loop: query every source each PollInterval, ship new builds.
	go func() {
		ticker := time.NewTicker(cfg.Agent.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, p := range pipelines {
					events, err := p.c.Collect(ctx)
					if err != nil {
						slog.Warn("poll error", "source", p.src.ID, "err", err)
						continue
					}
					for _, ev := range events {
						ship.Ship(ev)
						slog.Debug("queued build",
							"source", p.src.ID,
							"pipeline", ev.Payload.Pipeline,
							"status", ev.Payload.Status,
						)
					}
				}
			}
		}
	}()

	<-ctx.Done()
	slog.Info("pipepulse-agent shutting down")
}
