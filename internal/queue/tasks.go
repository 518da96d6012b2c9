// Package queue defines the asynq tasks that defer catalog publication and
// import purges to the worker process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ArchiveDrop/internal/catalog"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/purge"
)

const (
	// PublishCatalogTask is scheduled when an import is finalized.
	PublishCatalogTask = "catalog:publish"
	// PurgeImportTask removes a previous import from catalog and store.
	PurgeImportTask = "import:purge"
)

// PublishPayload carries the records of one finalized import.
type PublishPayload struct {
	ImportID   string         `json:"import_id"`
	Collection string         `json:"collection"`
	Files      []catalog.File `json:"files"`
}

// PurgePayload names the import to purge.
type PurgePayload struct {
	State model.ImportState `json:"state"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueuePublish enqueues a catalog publication.
func EnqueuePublish(ctx context.Context, client Enqueuer, payload PublishPayload) error {
	return enqueue(ctx, client, PublishCatalogTask, payload, asynq.MaxRetry(10))
}

// EnqueuePurge enqueues the purge of a previous import.
func EnqueuePurge(ctx context.Context, client Enqueuer, payload PurgePayload) error {
	return enqueue(ctx, client, PurgeImportTask, payload, asynq.MaxRetry(5))
}

func enqueue(ctx context.Context, client Enqueuer, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s task: %w", taskType, err)
	}
	return nil
}

// Publisher hands catalog publication to the worker.
type Publisher struct {
	Client Enqueuer
}

// Publish enqueues the records of state's import.
func (p Publisher) Publish(ctx context.Context, state model.ImportState, files []catalog.File) error {
	return EnqueuePublish(ctx, p.Client, PublishPayload{
		ImportID:   state.ID,
		Collection: state.CollectionName,
		Files:      files,
	})
}

// Purger hands the purge of a previous import to the worker. The report
// is always nil; the worker logs what was removed.
type Purger struct {
	Client Enqueuer
}

// Purge enqueues the purge of state's import.
func (p Purger) Purge(ctx context.Context, state model.ImportState) (*purge.Report, error) {
	return nil, EnqueuePurge(ctx, p.Client, PurgePayload{State: state})
}
