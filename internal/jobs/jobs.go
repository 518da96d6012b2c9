// Package jobs implements the per-type processing pipelines run by the
// worker pool. Every job works in its own scratch directory, removed when
// the job returns, and only touches the item it was given.
package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	pdfutil "github.com/dharsanguruparan/ArchiveDrop/internal/pdf"
	"github.com/dharsanguruparan/ArchiveDrop/internal/pool"
	"github.com/dharsanguruparan/ArchiveDrop/internal/transcribe"
)

// Toolkit runs the external media programs.
type Toolkit interface {
	ArchivalImage(ctx context.Context, src, dst string) error
	AccessImage(ctx context.Context, src, dst string) error
	TranscodeMovie(ctx context.Context, src, watermark, dst string) error
	Thumbnail(ctx context.Context, src, dst string) error
	TranscodeAudio(ctx context.Context, src, dst string) error
	OCR(ctx context.Context, src, outBase string) error
	MergePDF(ctx context.Context, pages []string, dst string) error
	CompressPDF(ctx context.Context, src, dst string) error
}

// ObjectStore receives the outputs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PutFile(ctx context.Context, key, path string) error
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (transcribe.Transcript, error)
}

// Env holds what the jobs share. Only Tools, Store and WorkDir are
// required.
type Env struct {
	Tools       Toolkit
	Store       ObjectStore
	Transcriber Transcriber
	WorkDir     string
	Watermark   string
	Log         *zap.Logger

	// PageCount and PageTexts inspect PDFs; they default to pdfutil.
	PageCount func(path string) (int, error)
	PageTexts func(path string) ([]string, error)

	// OutputAttempts bounds the polls for OCR output files, OutputDelay
	// is the first wait between them.
	OutputAttempts uint
	OutputDelay    time.Duration
}

func (e Env) withDefaults() Env {
	if e.Log == nil {
		e.Log = zap.NewNop()
	}
	if e.WorkDir == "" {
		e.WorkDir = os.TempDir()
	}
	if e.PageCount == nil {
		e.PageCount = pdfutil.PageCount
	}
	if e.PageTexts == nil {
		e.PageTexts = pdfutil.PageTexts
	}
	if e.OutputAttempts == 0 {
		e.OutputAttempts = 6
	}
	if e.OutputDelay <= 0 {
		e.OutputDelay = 100 * time.Millisecond
	}
	return e
}

// scratch creates a private working directory for one job run. The
// returned func removes it.
func (e Env) scratch(code string) (string, func(), error) {
	dir := filepath.Join(e.WorkDir, fmt.Sprintf("archivedrop-%s-%s", code, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			e.Log.Warn("scratch dir not removed", zap.String("path", dir), zap.Error(err))
		}
	}, nil
}

// Registry maps each processing type to its job.
type Registry struct {
	jobs map[model.ProcessingType]pool.Job
}

// NewRegistry builds the four jobs over env.
func NewRegistry(env Env) *Registry {
	env = env.withDefaults()
	return &Registry{jobs: map[model.ProcessingType]pool.Job{
		model.TypeImage:    &ImageJob{env: env},
		model.TypeMovie:    &MovieJob{env: env},
		model.TypeAudio:    &AudioJob{env: env},
		model.TypeDocument: &DocumentJob{env: env},
	}}
}

// For returns the job of type t.
func (r *Registry) For(t model.ProcessingType) (pool.Job, error) {
	j, ok := r.jobs[t]
	if !ok {
		return nil, fmt.Errorf("no job for processing type %q", t)
	}
	return j, nil
}

// Dispatch returns a job that routes each item by its own Type.
func (r *Registry) Dispatch() pool.Job {
	return pool.JobFunc(func(ctx context.Context, it model.ProcessingItem) (model.ProcessingItem, error) {
		j, err := r.For(it.Type)
		if err != nil {
			return it, err
		}
		return j.Run(ctx, it)
	})
}
