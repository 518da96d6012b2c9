// Package worker handles the deferred tasks enqueued by import sessions.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/catalog"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/purge"
	"github.com/dharsanguruparan/ArchiveDrop/internal/queue"
)

// Catalog publishes file records.
type Catalog interface {
	InsertFiles(ctx context.Context, files []catalog.File) error
}

// Purger removes a previous import.
type Purger interface {
	Purge(ctx context.Context, state model.ImportState) (*purge.Report, error)
}

// StateStore records the outcome on the import.
type StateStore interface {
	UpdateStatus(ctx context.Context, id string, status model.ImportStatus) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	catalog Catalog
	purger  Purger
	states  StateStore
	log     *zap.Logger
}

// NewProcessor constructs a worker processor. states may be nil.
func NewProcessor(catalog Catalog, purger Purger, states StateStore, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{catalog: catalog, purger: purger, states: states, log: log}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.PublishCatalogTask, p.handlePublish)
	mux.HandleFunc(queue.PurgeImportTask, p.handlePurge)
	return mux
}

func (p *Processor) handlePublish(ctx context.Context, task *asynq.Task) error {
	var payload queue.PublishPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that cannot be decoded will never succeed.
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With(zap.String("import", payload.ImportID), zap.String("collection", payload.Collection))
	if err := p.catalog.InsertFiles(ctx, payload.Files); err != nil {
		log.Warn("catalog publication failed", zap.Error(err))
		return err
	}
	p.setStatus(ctx, log, payload.ImportID, model.ImportFinalized)
	log.Info("import published", zap.Int("files", len(payload.Files)))
	return nil
}

func (p *Processor) handlePurge(ctx context.Context, task *asynq.Task) error {
	var payload queue.PurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With(zap.String("import", payload.State.ID), zap.String("base", payload.State.BaseCode()))
	if _, err := p.purger.Purge(ctx, payload.State); err != nil {
		log.Warn("purge failed", zap.Error(err))
		return err
	}
	p.setStatus(ctx, log, payload.State.ID, model.ImportPurged)
	return nil
}

func (p *Processor) setStatus(ctx context.Context, log *zap.Logger, id string, status model.ImportStatus) {
	if p.states == nil || id == "" {
		return
	}
	if err := p.states.UpdateStatus(ctx, id, status); err != nil {
		log.Warn("import status not updated", zap.String("status", string(status)), zap.Error(err))
	}
}
