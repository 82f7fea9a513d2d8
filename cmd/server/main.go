package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/abuse/blocklist"
	"vigil/internal/abuse/bruteforce"
	abuseconfig "vigil/internal/abuse/config"
	"vigil/internal/abuse/engine"
	"vigil/internal/abuse/metrics"
	"vigil/internal/abuse/pattern"
	"vigil/internal/abuse/penalty"
	attemptstore "vigil/internal/abuse/store/attempt"
	blockstore "vigil/internal/abuse/store/block"
	penaltystore "vigil/internal/abuse/store/penalty"
	"vigil/internal/abuse/window"
	"vigil/internal/alert"
	platformconfig "vigil/internal/platform/config"
	"vigil/internal/platform/health"
	"vigil/internal/platform/httpserver"
	"vigil/internal/platform/logger"
	platformredis "vigil/internal/platform/redis"
	httptransport "vigil/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps
// the server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg := platformconfig.FromEnv()
	log := logger.New()

	policy := abuseconfig.DefaultConfig()
	if err := abuseconfig.LoadOverrides(policy, cfg.PolicyFile); err != nil {
		log.Error("invalid policy configuration", "path", cfg.PolicyFile, "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis initialization failed", "error", err)
		os.Exit(1)
	}

	var (
		attempts  attemptstore.Store
		penalties penaltystore.Store
		blocks    blockstore.Store
	)
	if redisClient != nil {
		attempts = attemptstore.NewRedisStore(redisClient.Client)
		penalties = penaltystore.NewRedisStore(redisClient.Client)
		blocks = blockstore.NewRedisStore(redisClient.Client)
		log.Info("using redis stores", "url_configured", true)
	} else {
		attempts = attemptstore.NewMemoryStore()
		penalties = penaltystore.NewMemoryStore()
		blocks = blockstore.NewMemoryStore()
		log.Info("using in-memory stores")
	}

	dispatchers := alert.Multi{alert.NewLogDispatcher(log)}
	if cfg.AlertWebhookURL != "" {
		dispatchers = append(dispatchers, alert.NewWebhookDispatcher(cfg.AlertWebhookURL))
	}

	blockSvc, err := blocklist.New(blocks, blocklist.WithLogger(log), blocklist.WithMetrics(m))
	if err != nil {
		fatal(log, "blocklist init", err)
	}
	detector, err := pattern.New(blockSvc, policy,
		pattern.WithLogger(log),
		pattern.WithMetrics(m),
		pattern.WithAlertDispatcher(dispatchers),
	)
	if err != nil {
		fatal(log, "pattern detector init", err)
	}
	windowSvc, err := window.New(attempts, policy,
		window.WithLogger(log),
		window.WithMetrics(m),
		window.WithEventSink(detector),
	)
	if err != nil {
		fatal(log, "window service init", err)
	}
	penaltySvc, err := penalty.New(penalties, policy,
		penalty.WithLogger(log),
		penalty.WithMetrics(m),
		penalty.WithEventSink(detector),
		penalty.WithAlertDispatcher(dispatchers),
	)
	if err != nil {
		fatal(log, "penalty service init", err)
	}
	guard, err := bruteforce.New(windowSvc, penaltySvc, blockSvc, newAccountResolver(), policy,
		bruteforce.WithLogger(log),
		bruteforce.WithEventSink(detector),
	)
	if err != nil {
		fatal(log, "bruteforce guard init", err)
	}
	eng, err := engine.New(windowSvc, penaltySvc, guard, blockSvc, detector, policy,
		engine.WithLogger(log),
		engine.WithMetrics(m),
	)
	if err != nil {
		fatal(log, "engine init", err)
	}

	healthHandler := health.New(cfg.Environment)
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
	}

	handler := httptransport.NewHandler(eng, policy, log)
	router := httptransport.NewRouter(handler, healthHandler, log, cfg.RequestTimeout)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if redisClient != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return redisClient.Close()
				case <-ticker.C:
					redisClient.RecordPoolStats()
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func fatal(log *slog.Logger, what string, err error) {
	log.Error(what+" failed", "error", err)
	os.Exit(1)
}
