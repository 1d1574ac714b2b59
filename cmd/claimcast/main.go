// Command claimcast runs the live fact-check server: audio ingest,
// transcription, claim detection, research, and the operator HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/claimcast/internal/activity"
	"github.com/MrWong99/claimcast/internal/claims"
	"github.com/MrWong99/claimcast/internal/config"
	"github.com/MrWong99/claimcast/internal/events"
	"github.com/MrWong99/claimcast/internal/evidence/congress"
	"github.com/MrWong99/claimcast/internal/evidence/factcheck"
	"github.com/MrWong99/claimcast/internal/evidence/fred"
	"github.com/MrWong99/claimcast/internal/health"
	"github.com/MrWong99/claimcast/internal/httpapi"
	"github.com/MrWong99/claimcast/internal/observe"
	"github.com/MrWong99/claimcast/internal/outputpkg"
	"github.com/MrWong99/claimcast/internal/policy"
	"github.com/MrWong99/claimcast/internal/render"
	"github.com/MrWong99/claimcast/internal/run"
	"github.com/MrWong99/claimcast/internal/transcribe"
	"github.com/MrWong99/claimcast/internal/verify"
)

const defaultVerifierModel = "gpt-4o-mini"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "claimcast: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("claimcast starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "claimcast"})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Event hub and claim store ─────────────────────────────────────────────
	hub := events.NewHub()
	var lastSubscribers int
	hub.SetSubscriberGauge(func(n int) {
		metrics.EventSubscribers.Add(context.Background(), int64(n-lastSubscribers))
		lastSubscribers = n
	})

	// ── Activity log (optional Postgres sink) ─────────────────────────────────
	sink, err := activity.New(ctx, cfg.Activity.PostgresDSN)
	if err != nil {
		slog.Error("activity sink init failed", "err", err)
		return 1
	}
	if sink.Enabled() {
		slog.Info("activity log enabled")
	}

	store := claims.NewStore(policy.Evaluate, func(eventType string, snap *claims.Snapshot) {
		hub.Publish(events.Event{Type: eventType, RunID: snap.RunID, Claim: snap})
		sink.Record(snap.RunID, eventType, snap.ID, map[string]any{"version": snap.Version})
	})

	// ── Providers ─────────────────────────────────────────────────────────────
	if cfg.Providers.OpenAI.APIKey == "" {
		slog.Warn("no OpenAI API key configured, transcription and verification will fail or fall back")
	}
	var trOpts []transcribe.OpenAIOption
	if cfg.Providers.OpenAI.TranscribeModel != "" {
		trOpts = append(trOpts, transcribe.WithModel(cfg.Providers.OpenAI.TranscribeModel))
	}
	if cfg.Providers.OpenAI.BaseURL != "" {
		trOpts = append(trOpts, transcribe.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
	}
	transcriber := transcribe.NewOpenAI(cfg.Providers.OpenAI.APIKey, trOpts...)

	verifierModel := cfg.Providers.OpenAI.VerifierModel
	if verifierModel == "" {
		verifierModel = defaultVerifierModel
	}
	var vOpts []verify.Option
	if cfg.Providers.OpenAI.BaseURL != "" {
		vOpts = append(vOpts, verify.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
	}
	assessor := verify.New(cfg.Providers.OpenAI.APIKey, verifierModel, vOpts...)

	providers := run.Providers{
		Fact:     factcheck.New(cfg.Providers.FactCheck.APIKey),
		Economic: fred.New(cfg.Providers.Fred.APIKey),
		Legis:    congress.New(cfg.Providers.Congress.APIKey),
		Assessor: assessor,
	}

	// ── Output collaborators ──────────────────────────────────────────────────
	packages := outputpkg.New(store)
	renderOpts := []render.Option{
		render.WithEndpoint(cfg.Render.Endpoint),
		render.WithLogger(logger),
	}
	if cfg.Render.TimeoutMs > 0 {
		renderOpts = append(renderOpts, render.WithTimeout(time.Duration(cfg.Render.TimeoutMs)*time.Millisecond))
	}
	if cfg.Render.MaxAttempts > 0 {
		renderOpts = append(renderOpts, render.WithMaxAttempts(cfg.Render.MaxAttempts))
	}
	if cfg.Render.ArtifactDir != "" {
		renderOpts = append(renderOpts, render.WithArtifactDir(cfg.Render.ArtifactDir))
	}
	renderer := render.New(store, renderOpts...)

	// ── Run controller ────────────────────────────────────────────────────────
	controller := run.New(run.Deps{
		Cfg:         cfg,
		Hub:         hub,
		Store:       store,
		Transcriber: transcriber,
		Providers:   providers,
		Activity:    sink,
		Metrics:     metrics,
		Log:         logger,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	if _, statErr := os.Stat(*configPath); statErr == nil {
		watcher, werr := config.NewWatcher(*configPath, func(old, updated *config.Config) {
			d := config.Diff(old, updated)
			if !d.Changed() {
				return
			}
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.DetectionThresholdChanged || d.RateLimitChanged {
				slog.Info("config changed, restart required for detection threshold and rate limit changes")
			}
		})
		if werr != nil {
			slog.Warn("config watcher disabled", "err", werr)
		} else {
			defer watcher.Stop()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	api := httpapi.New(cfg.Server, httpapi.Deps{
		Controller: controller,
		Store:      store,
		Hub:        hub,
		Packages:   packages,
		Renderer:   renderer,
		Metrics:    metrics,
		Health: health.New(
			health.Checker{Name: "openai", Check: func(context.Context) error {
				if cfg.Providers.OpenAI.APIKey == "" {
					return errors.New("no OpenAI API key configured")
				}
				return nil
			}},
			health.Checker{Name: "activity", Check: sink.Ping},
		),
	}, httpapi.WithLogger(logger))

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := controller.Stop(); err != nil && !errors.Is(err, run.ErrNotRunning) {
		slog.Warn("run stop error", "err", err)
	}
	controller.WaitStopped(10 * time.Second)
	renderer.Wait()
	sink.Close(shutdownCtx)

	slog.Info("goodbye")
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
