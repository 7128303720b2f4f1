// Package main wires together the crawl and extraction service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/api"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/cache"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/clock/system"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/config"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/extract"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/fetcher/headless"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/fetcher/probe"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/hash/sha256"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/id/uuid"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/logging"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/orchestrator"
	memorypublisher "github.com/rafaelrnzo/AI-Article-Summarizer/internal/publisher/memory"
	pubsubpublisher "github.com/rafaelrnzo/AI-Article-Summarizer/internal/publisher/pubsub"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/session"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/storage/gcs"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/storage/local"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	pool := session.New(session.Config{
		Size:             cfg.Pool.Size,
		MaxAge:           time.Duration(cfg.Pool.MaxAgeSeconds) * time.Second,
		MaxUses:          cfg.Pool.MaxUses,
		UserAgent:        cfg.Pool.UserAgent,
		BreakerThreshold: cfg.Pool.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Pool.BreakerCooldownMs) * time.Millisecond,
	}, clock, logger.Named("pool"))

	headlessFetcher := headless.New(headless.Config{
		NavigationTimeout: cfg.NavTimeout(),
		DefaultWait:       crawl.WaitMode(cfg.Fetch.DefaultWait),
		DefaultDelay:      time.Duration(cfg.Fetch.DefaultDelayMs) * time.Millisecond,
		MaxRedirects:      cfg.Fetch.MaxRedirects,
		ViewportWidth:     cfg.Fetch.ViewportWidth,
		ViewportHeight:    cfg.Fetch.ViewportHeight,
	}, pool, logger.Named("headless"))

	var probeFetcher crawl.Fetcher
	if cfg.Probe.Enabled {
		probeFetcher = probe.New(probe.Config{
			UserAgent:    cfg.Probe.UserAgent,
			Timeout:      time.Duration(cfg.Probe.TimeoutSeconds) * time.Second,
			MaxRedirects: cfg.Probe.MaxRedirects,
		}, logger.Named("probe"))
	}

	registry := extract.NewRegistry(extract.Config{MinArticleLength: cfg.Crawler.MinArticleLength}, clock)
	resultCache := cache.New(cache.Config{TTL: cfg.CacheTTL(), StaleWindow: cfg.StaleWindow()}, clock)

	blobs := buildBlobStore(ctx, cfg, logger)
	records := buildRecordStore(ctx, cfg, logger)
	if closer, ok := records.(interface{ Close() }); ok && closer != nil {
		defer closer.Close()
	}
	publisher := buildPublisher(ctx, cfg, logger)

	orch := orchestrator.New(orchestrator.Config{
		Concurrency: cfg.Crawler.Concurrency,
		MaxAttempts: cfg.Crawler.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Crawler.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Crawler.BackoffMaxMs) * time.Millisecond,
		Topic:       cfg.PubSub.TopicName,
		BlobPrefix:  cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	}, orchestrator.Deps{
		Headless:  headlessFetcher,
		Probe:     probeFetcher,
		Extractor: registry,
		Cache:     resultCache,
		Records:   records,
		Blobs:     blobs,
		Publisher: publisher,
		Hasher:    hasher,
		Clock:     clock,
		IDs:       idGen,
		Logger:    logger.Named("orchestrator"),
	})

	apiServer := api.NewServer(orch, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The orchestrator and its pipelines run on their own lifecycle ctx so a
	// shutdown signal stops intake without aborting in-flight fetches; the
	// ctx is canceled only after Drain has resolved every outstanding job.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go func() {
		logger.Info("orchestrator started", zap.Int("concurrency", cfg.Crawler.Concurrency))
		orch.Run(runCtx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orch.Drain(shutdownCtx); err != nil {
		logger.Error("orchestrator drain error", zap.Error(err))
	}
	runCancel()
	if err := pool.Drain(shutdownCtx); err != nil {
		logger.Error("session pool drain error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) crawl.BlobStore {
	switch cfg.Storage.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			logger.Warn("local blob store init failed", zap.Error(err))
			return nil
		}
		return store
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			logger.Warn("gcs client init failed", zap.Error(err))
			return nil
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Warn("gcs blob store init failed", zap.Error(err))
			return nil
		}
		return store
	default:
		return nil
	}
}

func buildRecordStore(ctx context.Context, cfg config.Config, logger *zap.Logger) crawl.RecordStore {
	if cfg.DB.DSN == "" {
		return nil
	}
	store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
	if err != nil {
		logger.Warn("postgres record store init failed", zap.Error(err))
		return nil
	}
	return store
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) crawl.Publisher {
	if cfg.PubSub.TopicName == "" {
		logger.Info("no pubsub topic configured, using in-memory publisher")
		return memorypublisher.New()
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Warn("pubsub client init failed, using in-memory publisher", zap.Error(err))
		return memorypublisher.New()
	}
	pub, err := pubsubpublisher.New(client, cfg.PubSub.TopicName)
	if err != nil {
		logger.Warn("pubsub publisher init failed, using in-memory publisher", zap.Error(err))
		return memorypublisher.New()
	}
	return pub
}
