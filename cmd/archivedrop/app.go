package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/catalog"
	"github.com/dharsanguruparan/ArchiveDrop/internal/config"
	"github.com/dharsanguruparan/ArchiveDrop/internal/database"
	"github.com/dharsanguruparan/ArchiveDrop/internal/jobs"
	"github.com/dharsanguruparan/ArchiveDrop/internal/ledger"
	"github.com/dharsanguruparan/ArchiveDrop/internal/media"
	"github.com/dharsanguruparan/ArchiveDrop/internal/metrics"
	"github.com/dharsanguruparan/ArchiveDrop/internal/pool"
	"github.com/dharsanguruparan/ArchiveDrop/internal/purge"
	"github.com/dharsanguruparan/ArchiveDrop/internal/queue"
	"github.com/dharsanguruparan/ArchiveDrop/internal/renamer"
	"github.com/dharsanguruparan/ArchiveDrop/internal/repository"
	"github.com/dharsanguruparan/ArchiveDrop/internal/s3storage"
	"github.com/dharsanguruparan/ArchiveDrop/internal/session"
	"github.com/dharsanguruparan/ArchiveDrop/internal/storage"
	"github.com/dharsanguruparan/ArchiveDrop/internal/transcribe"
)

// app owns the collaborators built from the configuration. Everything is
// created on demand so that e.g. rollback works without an object store.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func()

	states  session.StateStore
	catalog *catalog.Client
	store   *s3storage.Storage
	queue   *asynq.Client
}

func newApp(cfg *config.Config, log *zap.Logger) *app {
	reg := prometheus.NewRegistry()
	return &app{cfg: cfg, log: log, registry: reg, metrics: metrics.New(reg)}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

// stateStore uses Postgres when a database is configured. The in-memory
// store forgets every import when the process exits.
func (a *app) stateStore(ctx context.Context) (session.StateStore, error) {
	if a.states != nil {
		return a.states, nil
	}
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("no database configured, import state is kept in memory")
		a.states = storage.NewMemoryStore()
		return a.states, nil
	}
	db, err := database.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if err := database.EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	a.states = repository.NewImportRepository(db)
	return a.states, nil
}

func (a *app) catalogClient() (*catalog.Client, error) {
	if a.catalog != nil {
		return a.catalog, nil
	}
	c, err := catalog.New(a.cfg.Catalog.URL, a.cfg.CatalogSecret(),
		catalog.WithHTTPClient(&http.Client{Timeout: a.cfg.Catalog.Timeout}),
		catalog.WithLogger(a.log.Named("catalog")),
	)
	if err != nil {
		return nil, err
	}
	a.catalog = c
	return c, nil
}

func (a *app) objectStore(ctx context.Context) (*s3storage.Storage, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := s3storage.New(a.cfg, a.log.Named("s3"))
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

func (a *app) queueClient() *asynq.Client {
	if a.queue == nil {
		a.queue = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		client := a.queue
		a.closers = append(a.closers, func() { _ = client.Close() })
	}
	return a.queue
}

func (a *app) engine() *renamer.Engine {
	fs := afero.NewOsFs()
	return renamer.New(fs,
		renamer.WithLedger(ledger.New(fs, a.cfg.LedgerDir)),
		renamer.WithLogger(a.log.Named("renamer")),
	)
}

func (a *app) registryFor(store jobs.ObjectStore) *jobs.Registry {
	tools := media.NewToolkit(media.Paths{
		FFmpeg:      a.cfg.Tools.FFmpeg,
		Magick:      a.cfg.Tools.Magick,
		Tesseract:   a.cfg.Tools.Tesseract,
		Qpdf:        a.cfg.Tools.Qpdf,
		Ghostscript: a.cfg.Tools.Ghostscript,
	}, a.log.Named("media"))
	tools.OCRLanguage = a.cfg.Tools.OCRLanguage

	env := jobs.Env{
		Tools:     tools,
		Store:     store,
		WorkDir:   a.cfg.WorkDir,
		Watermark: a.cfg.Tools.Watermark,
		Log:       a.log.Named("jobs"),
	}
	if a.cfg.Transcribe.URL != "" {
		env.Transcriber = transcribe.New(transcribe.Config{
			URL:           a.cfg.Transcribe.URL,
			APIKey:        a.cfg.Transcribe.APIKey,
			Model:         a.cfg.Transcribe.Model,
			FallbackModel: a.cfg.Transcribe.FallbackModel,
			Timeout:       a.cfg.Transcribe.Timeout,
		}, a.log.Named("transcribe"))
	}
	return jobs.NewRegistry(env)
}

// lightCoordinator serves the commands that only touch renames and state.
func (a *app) lightCoordinator(ctx context.Context) (*session.Coordinator, error) {
	states, err := a.stateStore(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := a.catalogClient()
	if err != nil {
		return nil, err
	}
	return session.New(session.Dependencies{
		Engine:  a.engine(),
		Catalog: cat,
		States:  states,
		Metrics: a.metrics,
		Log:     a.log.Named("session"),
	}, nil), nil
}

// coordinator wires the full import pipeline.
func (a *app) coordinator(ctx context.Context, sink pool.Sink) (*session.Coordinator, error) {
	states, err := a.stateStore(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := a.catalogClient()
	if err != nil {
		return nil, err
	}
	store, err := a.objectStore(ctx)
	if err != nil {
		return nil, err
	}

	var (
		publisher session.Publisher = session.DirectPublisher{Catalog: cat}
		purger    session.Purger    = purge.New(cat, store, a.log.Named("purge"))
	)
	if a.cfg.QueuePublish {
		client := a.queueClient()
		publisher = queue.Publisher{Client: client}
		purger = queue.Purger{Client: client}
	}

	return session.New(session.Dependencies{
		Engine:       a.engine(),
		Catalog:      cat,
		Pool:         pool.New(a.cfg.MaxWorkers, pool.WithLogger(a.log.Named("pool")), pool.WithMetrics(a.metrics)),
		Jobs:         a.registryFor(store),
		States:       states,
		Publisher:    publisher,
		Purger:       purger,
		Metrics:      a.metrics,
		Log:          a.log.Named("session"),
		ProcessedDir: a.cfg.ProcessedDir,
	}, sink), nil
}
