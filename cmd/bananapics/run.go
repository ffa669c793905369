package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
	"github.com/bananapics/core/internal/cache"
	"github.com/bananapics/core/internal/chat"
	"github.com/bananapics/core/internal/circuitbreaker"
	"github.com/bananapics/core/internal/config"
	"github.com/bananapics/core/internal/provider"
	"github.com/bananapics/core/internal/provider/wavespeed"
	"github.com/bananapics/core/internal/ratelimit"
	"github.com/bananapics/core/internal/server"
	"github.com/bananapics/core/internal/storage/sqlite"
	"github.com/bananapics/core/internal/telemetry"
	"github.com/bananapics/core/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting bananapics", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := cfg.Database.DSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}
	slog.Info("catalog seeded", "models", len(cfg.Models))

	// Shared DNS cache for all provider HTTP clients.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	// Register providers. Only Wavespeed exists today, but the registry
	// stays keyed by name so a second REST upstream is a new case here,
	// not a new admission path.
	reg := provider.NewRegistry()
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			slog.Info("provider skipped (disabled)", "name", p.Name)
			continue
		}
		switch p.Name {
		case "wavespeed":
			reg.Register(wavespeed.New(p.APIKey, p.BaseURL, dnsResolver))
			slog.Info("provider registered", "name", p.Name)
		default:
			slog.Warn("unknown provider, skipping", "name", p.Name)
		}
	}

	for _, m := range cfg.Models {
		if !m.IsEnabled() {
			continue
		}
		slog.Info("model configured", "key", m.Key, "provider", m.Provider)
	}

	// Prometheus metrics.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	// OpenTelemetry tracing.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("bananapics/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	// Soft-state cache (model catalog lookups, provider balance, alert dedup).
	var softCache cache.Cache
	if cfg.Cache.Enabled {
		mc, cacheErr := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if cacheErr != nil {
			return cacheErr
		}
		softCache = mc
		slog.Info("cache enabled", "max_size", cfg.Cache.MaxSize, "default_ttl", cfg.Cache.DefaultTTL)
	}

	// Telegram client. A missing bot token means the process is still
	// useful as a headless HTTP API (e.g. local testing); generations
	// then complete without the result/progress message deliveries. A
	// nil core.Chat interface is passed through (not a typed-nil
	// *chat.Client) so the poller/broadcast/gate services' `chat != nil`
	// checks behave correctly.
	var chatClient core.Chat
	if cfg.Chat.BotToken != "" {
		c, err := chat.New(cfg.Chat.BotToken, cfg.Chat.BaseURL)
		if err != nil {
			return fmt.Errorf("chat client: %w", err)
		}
		chatClient = c
		slog.Info("telegram chat client ready")
	} else {
		slog.Warn("chat.bot_token empty, running without chat delivery")
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	gate := app.NewProviderGate(reg, breakers, softCache, cfg.Pricing.MinProviderBalanceUSD, chatClient, cfg.Admin.NotifyChatIDs)
	pricing := app.NewPricingService(store, softCache, cfg.Pricing.CreditsPerUSD)
	ledger := app.NewLedgerService(store, store, cfg.Generation.ReferralBonusPercent, metrics)
	submission := app.NewSubmissionGateway(
		store, store, store, store,
		ledger, pricing, gate,
		cfg.Generation.MaxActivePerUser,
		cfg.Generation.MaxPollDuration,
	)

	poller := worker.NewGenerationPoller(
		store, ledger, store, reg, chatClient,
		cfg.Generation.PollInterval, cfg.Generation.MaxPollDuration,
		metrics,
	)
	reaper := worker.NewStuckJobReaper(
		store, ledger, store,
		cfg.Generation.ReaperSweepInterval, cfg.Generation.StuckJobThreshold,
	)

	broadcastLimiter := ratelimit.NewBucket(cfg.Broadcast.RateLimitPerSecond)
	broadcasts := app.NewBroadcastService(store, store, chatClient, broadcastLimiter, cfg.Admin.NotifyChatIDs, metrics)
	dispatcher := worker.NewBroadcastDispatcher(broadcasts)

	runner := worker.NewRunner(poller, reaper, dispatcher)

	handler := server.New(server.Deps{
		Store:               store,
		Submission:          submission,
		Broadcasts:          broadcasts,
		Ledger:              ledger,
		Poller:              poller,
		BroadcastDispatcher: dispatcher,
		AdminKey:            cfg.Admin.AdminKey,
		Metrics:             metrics,
		MetricsHandler:      metricsHandler,
		Tracer:              tracer,
		ReadyCheck:          store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Start background workers.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("bananapics ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("bananapics stopped")
	return nil
}
