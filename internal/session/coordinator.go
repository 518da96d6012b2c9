// Package session sequences an import: rename the collection, process its
// items on the worker pool, then either finalize (relocate and publish) or
// abandon (roll the renames back).
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/catalog"
	"github.com/dharsanguruparan/ArchiveDrop/internal/jobs"
	"github.com/dharsanguruparan/ArchiveDrop/internal/ledger"
	"github.com/dharsanguruparan/ArchiveDrop/internal/metrics"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/pool"
	"github.com/dharsanguruparan/ArchiveDrop/internal/purge"
	"github.com/dharsanguruparan/ArchiveDrop/internal/renamer"
	"github.com/dharsanguruparan/ArchiveDrop/internal/storage"
)

var (
	// ErrRelocate is returned when the processed collection cannot be moved
	// to the processed directory. Nothing is published in that case.
	ErrRelocate = errors.New("relocate processed collection")
	// ErrNotProcessed is returned by Finalize for a session whose items
	// were never run.
	ErrNotProcessed = errors.New("session has not been processed")
	// ErrFinalized is returned by Abandon once the import is published.
	ErrFinalized = errors.New("session already finalized")
)

// Catalog hands out inventory numbers.
type Catalog interface {
	NextInventoryNumber(ctx context.Context, prefix string) (int, error)
}

// Publisher makes the records of a finalized import visible in the
// catalog, either directly or through the task queue.
type Publisher interface {
	Publish(ctx context.Context, state model.ImportState, files []catalog.File) error
}

// Purger removes a previous import. A nil report means the purge was
// deferred.
type Purger interface {
	Purge(ctx context.Context, state model.ImportState) (*purge.Report, error)
}

// StateStore persists import state.
type StateStore interface {
	SaveImport(ctx context.Context, state model.ImportState) error
	UpdateStatus(ctx context.Context, id string, status model.ImportStatus) error
	LastImport(ctx context.Context) (model.ImportState, error)
}

// Dependencies groups the collaborators of a Coordinator. Purger and
// Metrics are optional.
type Dependencies struct {
	FS        afero.Fs
	Engine    *renamer.Engine
	Catalog   Catalog
	Pool      *pool.Pool
	Jobs      *jobs.Registry
	States    StateStore
	Publisher Publisher
	Purger    Purger
	Metrics   *metrics.Metrics
	Log       *zap.Logger

	// ProcessedDir receives finalized collections.
	ProcessedDir string
	// Window is the share of the overall progress bar owned by processing.
	Window pool.Window
}

// Request starts an import.
type Request struct {
	CollectionPath string
	// Name defaults to the collection folder name.
	Name   string
	Prefix string
	Type   model.ProcessingType
}

// Session is one import in flight.
type Session struct {
	State     model.ImportState
	Items     []model.ProcessingItem
	Rename    *renamer.Result
	Processed []model.ProcessingItem
	Progress  model.ProgressState
}

// FinalizeReport describes a finalized import.
type FinalizeReport struct {
	Destination string
	Published   int
	Failed      int
}

// Coordinator drives import sessions. Progress of the running batch is
// available through Snapshot.
type Coordinator struct {
	deps Dependencies
	log  *zap.Logger
	now  func() time.Time
	sink pool.Sink

	mu       sync.Mutex
	current  *model.ImportState
	progress model.ProgressState
	percent  float64
}

// New returns a Coordinator. sink, when not nil, receives every progress
// event of every batch.
func New(deps Dependencies, sink pool.Sink) *Coordinator {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Window.Range == 0 {
		deps.Window = pool.FullWindow
	}
	return &Coordinator{deps: deps, log: deps.Log, now: time.Now, sink: sink}
}

// Snapshot is the state served by the status endpoints.
type Snapshot struct {
	Import   *model.ImportState  `json:"import,omitempty"`
	Progress model.ProgressState `json:"progress"`
	Percent  float64             `json:"percent"`
}

// Snapshot returns the current import and its progress.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{Progress: c.progress, Percent: c.percent}
	if c.current != nil {
		st := *c.current
		snap.Import = &st
	}
	return snap
}

// Start renames the collection and records the new import. Per-entry
// rename failures are kept in s.Rename.Err; only a failure to read the
// collection or to reach the catalog fails Start. When renaming aborts
// half way, the entries already renamed are restored before Start returns.
func (c *Coordinator) Start(ctx context.Context, req Request) (*Session, error) {
	if err := model.ValidatePrefix(req.Prefix); err != nil {
		return nil, err
	}
	if _, err := model.ParseProcessingType(string(req.Type)); err != nil {
		return nil, err
	}
	path := ledger.Key(req.CollectionPath)
	name := req.Name
	if name == "" {
		name = filepath.Base(path)
	}
	log := c.log.With(zap.String("collection", path), zap.String("prefix", req.Prefix))

	next, err := c.deps.Catalog.NextInventoryNumber(ctx, req.Prefix)
	if err != nil {
		return nil, fmt.Errorf("fetch next inventory number: %w", err)
	}
	res, err := c.deps.Engine.Rename(ctx, path, req.Prefix, next)
	if err != nil {
		if res != nil && len(res.Records) > 0 {
			return nil, c.undoPartialRename(ctx, log, path, err)
		}
		return nil, err
	}
	if res.Err != nil {
		log.Warn("some entries were not renamed", zap.Error(res.Err))
	}

	items := make([]model.ProcessingItem, len(res.Items))
	for i, it := range res.Items {
		it.Type = req.Type
		items[i] = it
	}
	dirs := 0
	for _, rec := range res.Records {
		if rec.IsDirectory {
			dirs++
		}
	}
	c.deps.Metrics.EntriesRenamed("dir", dirs)
	c.deps.Metrics.EntriesRenamed("file", len(res.Records)-dirs)

	now := c.now()
	state := model.ImportState{
		ID:             uuid.NewString(),
		CollectionName: name,
		CollectionType: req.Type,
		Prefix:         req.Prefix,
		BaseNumber:     next,
		LastCode:       res.LastCode,
		FolderPath:     path,
		Status:         model.ImportRenamed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.deps.States.SaveImport(ctx, state); err != nil {
		return nil, fmt.Errorf("save import state: %w", err)
	}
	c.setCurrent(state, model.ProgressState{TotalFiles: len(items)}, 0)
	log.Info("collection renamed",
		zap.String("import", state.ID),
		zap.String("base", state.BaseCode()),
		zap.String("last", res.LastCode),
		zap.Int("items", len(items)),
	)
	return &Session{State: state, Items: items, Rename: res}, nil
}

// Process runs items, or s.Items when items is nil, through the job of the
// session's type. Multi-page document folders are collapsed first. Item
// failures are recorded on the returned items.
func (c *Coordinator) Process(ctx context.Context, s *Session, items []model.ProcessingItem) ([]model.ProcessingItem, error) {
	if items == nil {
		items = s.Items
	}
	job, err := c.deps.Jobs.For(s.State.CollectionType)
	if err != nil {
		return nil, err
	}
	if s.State.CollectionType == model.TypeDocument {
		before := len(items)
		items = jobs.Deduplicate(items, s.State.FolderPath)
		c.log.Debug("document pages collapsed", zap.Int("items", before), zap.Int("batch", len(items)))
	}
	if err := c.setStatus(ctx, s, model.ImportProcessing); err != nil {
		return nil, err
	}
	c.setCurrent(s.State, model.ProgressState{TotalFiles: len(items)}, c.deps.Window.Start)

	start := c.now()
	results := c.deps.Pool.RunBatch(ctx, items, job, c.deps.Window, c.observe)
	s.Processed = results
	s.Progress = model.ProgressState{TotalFiles: len(results), ProcessedFiles: len(results)}

	failed := countFailed(results)
	c.log.Info("collection processed",
		zap.String("import", s.State.ID),
		zap.Int("total", len(results)),
		zap.Int("failed", failed),
		zap.Duration("took", c.now().Sub(start)),
	)
	return results, nil
}

// Finalize moves the collection into the processed directory and publishes
// every successfully processed item. Failing to move the collection is
// fatal and nothing is published. The rename records are dropped once the
// import is published, so it can no longer be rolled back.
func (c *Coordinator) Finalize(ctx context.Context, s *Session) (*FinalizeReport, error) {
	if s.Processed == nil {
		return nil, ErrNotProcessed
	}
	dest, err := c.relocate(s.State.FolderPath)
	if err != nil {
		return nil, err
	}

	report := &FinalizeReport{Destination: dest}
	files := make([]catalog.File, 0, len(s.Processed))
	for _, it := range s.Processed {
		if !it.Processed {
			report.Failed++
			continue
		}
		files = append(files, catalog.FileFromItem(s.State.CollectionName, it))
	}
	if err := c.deps.Publisher.Publish(ctx, s.State, files); err != nil {
		return report, fmt.Errorf("publish import: %w", err)
	}
	report.Published = len(files)

	if err := c.deps.Engine.Commit(s.State.FolderPath); err != nil {
		c.log.Warn("rename ledger not discarded", zap.Error(err))
	}
	s.State.FolderPath = dest
	if err := c.setStatus(ctx, s, model.ImportFinalized); err != nil {
		return report, err
	}
	c.log.Info("import finalized",
		zap.String("import", s.State.ID),
		zap.String("path", dest),
		zap.Int("published", report.Published),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// Abandon restores the original names of the session's collection.
func (c *Coordinator) Abandon(ctx context.Context, s *Session) (*renamer.RollbackReport, error) {
	if s.State.Status == model.ImportFinalized {
		return nil, ErrFinalized
	}
	report, err := c.deps.Engine.Rollback(ctx, s.State.FolderPath)
	if err != nil {
		return report, fmt.Errorf("roll back %s: %w", s.State.FolderPath, err)
	}
	if err := c.setStatus(ctx, s, model.ImportAbandoned); err != nil {
		return report, err
	}
	return report, nil
}

// RollbackPath restores the names of a collection renamed by an earlier
// run, using its persisted rename ledger.
func (c *Coordinator) RollbackPath(ctx context.Context, path string) (*renamer.RollbackReport, error) {
	report, err := c.deps.Engine.Rollback(ctx, path)
	if err != nil {
		return report, err
	}
	last, err := c.deps.States.LastImport(ctx)
	if err == nil && ledger.Key(last.FolderPath) == ledger.Key(path) && last.Status == model.ImportRenamed {
		if err := c.deps.States.UpdateStatus(ctx, last.ID, model.ImportAbandoned); err != nil {
			c.log.Warn("import status not updated", zap.Error(err))
		}
	}
	return report, nil
}

// PurgePrevious removes the catalog rows and stored objects of the last
// recorded import. It returns purge.ErrNoImport when there is none.
func (c *Coordinator) PurgePrevious(ctx context.Context) (*purge.Report, error) {
	if c.deps.Purger == nil {
		return nil, errors.New("no purger configured")
	}
	last, err := c.deps.States.LastImport(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, purge.ErrNoImport
	}
	if err != nil {
		return nil, fmt.Errorf("load last import: %w", err)
	}
	report, err := c.deps.Purger.Purge(ctx, last)
	if err != nil {
		return report, err
	}
	if report == nil {
		c.log.Info("purge of previous import queued", zap.String("import", last.ID))
		return nil, nil
	}
	if err := c.deps.States.UpdateStatus(ctx, last.ID, model.ImportPurged); err != nil {
		return report, fmt.Errorf("update import status: %w", err)
	}
	return report, nil
}

func (c *Coordinator) undoPartialRename(ctx context.Context, log *zap.Logger, path string, cause error) error {
	log.Warn("rename aborted, restoring original names", zap.Error(cause))
	report, err := c.deps.Engine.Rollback(context.WithoutCancel(ctx), path)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("restore %s: %w", path, err))
	}
	if len(report.Kept) > 0 {
		log.Warn("folders kept after restore", zap.Strings("paths", report.Kept))
	}
	return cause
}

func (c *Coordinator) relocate(src string) (string, error) {
	dest := filepath.Join(c.deps.ProcessedDir, filepath.Base(src))
	if c.deps.ProcessedDir == "" {
		return "", fmt.Errorf("%w: no processed directory configured", ErrRelocate)
	}
	if _, err := c.deps.FS.Stat(dest); err == nil {
		return "", fmt.Errorf("%w: %s already exists", ErrRelocate, dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %v", ErrRelocate, err)
	}
	if err := c.deps.FS.MkdirAll(c.deps.ProcessedDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelocate, err)
	}
	if err := c.deps.FS.Rename(src, dest); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelocate, err)
	}
	return dest, nil
}

func (c *Coordinator) setStatus(ctx context.Context, s *Session, status model.ImportStatus) error {
	if err := c.deps.States.UpdateStatus(ctx, s.State.ID, status); err != nil {
		return fmt.Errorf("update import status: %w", err)
	}
	s.State.Status = status
	s.State.UpdatedAt = c.now()
	c.mu.Lock()
	st := s.State
	c.current = &st
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) setCurrent(state model.ImportState, progress model.ProgressState, percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &state
	c.progress = progress
	c.percent = percent
}

// observe is the pool sink; events arrive serialized.
func (c *Coordinator) observe(ev pool.Event) {
	c.mu.Lock()
	c.progress = ev.State
	c.percent = ev.Percent
	c.mu.Unlock()
	if !ev.Item.Processed {
		c.log.Warn("item failed", zap.String("code", ev.Item.Code), zap.String("error", ev.Item.Error))
	}
	if c.sink != nil {
		c.sink(ev)
	}
}

func countFailed(items []model.ProcessingItem) int {
	n := 0
	for _, it := range items {
		if !it.Processed {
			n++
		}
	}
	return n
}

// DirectPublisher inserts the records straight into the catalog.
type DirectPublisher struct {
	Catalog interface {
		InsertFiles(ctx context.Context, files []catalog.File) error
	}
}

// Publish inserts files. An empty import publishes nothing.
func (p DirectPublisher) Publish(ctx context.Context, _ model.ImportState, files []catalog.File) error {
	if len(files) == 0 {
		return nil
	}
	return p.Catalog.InsertFiles(ctx, files)
}
