package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/catalog"
	"github.com/dharsanguruparan/ArchiveDrop/internal/config"
	"github.com/dharsanguruparan/ArchiveDrop/internal/database"
	"github.com/dharsanguruparan/ArchiveDrop/internal/logger"
	"github.com/dharsanguruparan/ArchiveDrop/internal/pool"
	"github.com/dharsanguruparan/ArchiveDrop/internal/purge"
	"github.com/dharsanguruparan/ArchiveDrop/internal/repository"
	"github.com/dharsanguruparan/ArchiveDrop/internal/s3storage"
	"github.com/dharsanguruparan/ArchiveDrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cat, err := catalog.New(cfg.Catalog.URL, cfg.CatalogSecret(),
		catalog.WithHTTPClient(&http.Client{Timeout: cfg.Catalog.Timeout}),
		catalog.WithLogger(log.Named("catalog")),
	)
	if err != nil {
		log.Fatal("init catalog client", zap.Error(err))
	}

	store, err := s3storage.New(cfg, log.Named("s3"))
	if err != nil {
		log.Fatal("init storage", zap.Error(err))
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatal("ensure bucket", zap.Error(err))
	}

	var states worker.StateStore
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("connect database", zap.Error(err))
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Fatal("ensure schema", zap.Error(err))
		}
		states = repository.NewImportRepository(db)
	}

	concurrency := cfg.MaxWorkers
	if concurrency <= 0 {
		concurrency = pool.DefaultSize()
	}
	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, asynq.Config{
		Concurrency: concurrency,
		Logger:      log.Named("asynq").Sugar(),
	})
	processor := worker.NewProcessor(cat, purge.New(cat, store, log.Named("purge")), states, log.Named("worker"))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info("worker started", zap.Int("concurrency", concurrency), zap.String("redis", cfg.Redis.Addr))
	if err := server.Run(mux); err != nil {
		log.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
