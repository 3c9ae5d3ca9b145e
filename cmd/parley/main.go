// Command parley is the main entry point for the parley voice session server.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/server"
	"github.com/MrWong99/parley/pkg/audio/portaudio"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	modeFlag := flag.String("mode", "", "override session.mode (local, turn, serve)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	if *modeFlag != "" {
		cfg.Session.Mode = config.Mode(*modeFlag)
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "parley: -mode %s: %v\n", *modeFlag, err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"mode", cfg.Session.Mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Memory.EmbeddingDimensions)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	writeSummary(os.Stdout, cfg)

	// ── Application ───────────────────────────────────────────────────────────
	var opts []app.Option
	if cfg.Session.Mode != config.ModeServe {
		opts = append(opts, app.WithDeviceOpener(&portaudio.Opener{}))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, func(_, updated *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if *modeFlag != "" {
			updated.Session.Mode = cfg.Session.Mode
		}
		application.Apply(updated, diff)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		// Leaving the mode ends the process, watcher included.
		defer cancel()
		switch cfg.Session.Mode {
		case config.ModeLocal:
			return application.RunLocal(gctx)
		case config.ModeTurn:
			return application.RunTurn(gctx)
		default:
			return serve(gctx, cfg, application)
		}
	})

	exit := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping…")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	slog.Info("goodbye")
	return exit
}

// serve runs the HTTP surface until ctx is done: the WebSocket endpoint,
// health probes and Prometheus metrics.
func serve(ctx context.Context, cfg *config.Config, application *app.App) error {
	mux := http.NewServeMux()
	server.New(application.Sessions()).Register(mux)
	probes := health.New(application.Checkers(), health.WithSessionCount(application.Sessions().Count))
	probes.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	slog.Info("server ready, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	// Stop accepting peers; live sockets end when their sessions are
	// disconnected by app.Shutdown.
	probes.Drain()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	return ctx.Err()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

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
