package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/voicebridge/proxy/internal/config"
	"github.com/voicebridge/proxy/internal/convlog"
	"github.com/voicebridge/proxy/internal/dedup"
	"github.com/voicebridge/proxy/internal/dotenv"
	"github.com/voicebridge/proxy/internal/metrics"
	"github.com/voicebridge/proxy/internal/phrase"
	"github.com/voicebridge/proxy/internal/session"
	"github.com/voicebridge/proxy/internal/turn"
	"github.com/voicebridge/proxy/internal/upstream"
	"github.com/voicebridge/proxy/server"
)

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var dedupStore dedup.Store
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		dedupStore = dedup.NewRedisStore(client, cfg.DedupEvictAfter)
		logger.Info("dedup cache backed by redis", "addr", cfg.RedisAddr)
	default:
		dedupStore = dedup.NewMemoryStore()
	}

	catalog := phrase.New()
	if cfg.PhraseCatalogPath != "" {
		watcher, err := catalog.WatchFile(cfg.PhraseCatalogPath, logger)
		if err != nil {
			logger.Warn("phrase catalog watch failed, continuing with defaults", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	coord := session.New()
	convLog := convlog.New(cfg.MaxConversations)
	upstreamClient := upstream.New(cfg)

	registry := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(registry)
	} else {
		m = metrics.Noop()
	}

	pipeline := turn.New(cfg, coord, dedupStore, catalog, upstreamClient, convLog, m, logger)
	srv := server.New(cfg, logger, pipeline, convLog, registry)

	sweeper := cron.New()
	sweepSpec := "@every " + cfg.SweepInterval.String()
	if memStore, ok := dedupStore.(*dedup.MemoryStore); ok {
		sweeper.AddFunc(sweepSpec, func() {
			if n := memStore.Sweep(cfg.DedupEvictAfter); n > 0 {
				logger.Debug("dedup sweep removed stale entries", "removed", n)
			}
		})
	}
	sweeper.AddFunc(sweepSpec, func() {
		if n := coord.Sweep(); n > 0 {
			logger.Debug("session sweep removed idle sessions", "removed", n)
		}
	})
	sweeper.Start()
	defer sweeper.Stop()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting voicebridge proxy", "addr", cfg.Addr, "upstream", cfg.UpstreamURL)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voicebridge proxy stopped")
	return nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		os.Exit(1)
	}
}
