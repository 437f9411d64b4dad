package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"auction-batch/internal/api"
	"auction-batch/internal/artifact"
	"auction-batch/internal/config"
	"auction-batch/internal/health"
	"auction-batch/internal/healthlog"
	"auction-batch/internal/logging"
	"auction-batch/internal/ratelimit"
	"auction-batch/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(zap.String("env", cfg.Env), zap.String("component", "healthboard"))
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	manifest, err := config.LoadManifest(cfg.ManifestPath, cfg)
	if err != nil {
		logger.Fatal("load manifest", zap.Error(err))
	}
	registry, err := health.NewRegistry(manifest.Services)
	if err != nil {
		logger.Fatal("build service registry", zap.Error(err))
	}
	stores, _, err := artifact.OpenStores(ctx, cfg)
	if err != nil {
		logger.Fatal("open artifact stores", zap.Error(err))
	}
	hlog, err := healthlog.Open(cfg)
	if err != nil {
		logger.Fatal("open health log", zap.Error(err))
	}
	defer hlog.Close()

	var runs api.RunLister
	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer st.Close()
		runs = st
	}

	var limiter *ratelimit.TokenBucket
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	// The board only evaluates; it never appends to the health log.
	verifier := health.NewVerifier(registry, stores, nil, logger)
	server := api.New(verifier, hlog, runs, limiter, cfg.Location(), logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("healthboard listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
