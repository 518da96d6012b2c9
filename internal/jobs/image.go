package jobs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/s3storage"
)

// ImageJob stores an archival and an access rendition of a still image.
// The inventory code is the canonical name, so no hash is computed.
type ImageJob struct {
	env Env
}

func (j *ImageJob) Run(ctx context.Context, it model.ProcessingItem) (model.ProcessingItem, error) {
	dir, cleanup, err := j.env.scratch(it.Code)
	if err != nil {
		return it, err
	}
	defer cleanup()

	archival := filepath.Join(dir, it.Code+".jpg")
	if err := j.env.Tools.ArchivalImage(ctx, it.SourcePath, archival); err != nil {
		return it, fmt.Errorf("archival copy: %w", err)
	}
	access := filepath.Join(dir, it.Code+"_access.jpg")
	if err := j.env.Tools.AccessImage(ctx, archival, access); err != nil {
		return it, fmt.Errorf("access copy: %w", err)
	}

	archivalKey := s3storage.Key(s3storage.ArchivalImages, it.Code, "", ".jpg")
	if err := j.env.Store.PutFile(ctx, archivalKey, archival); err != nil {
		return it, err
	}
	accessKey := s3storage.Key(s3storage.AccessImages, it.Code, "", ".jpg")
	if err := j.env.Store.PutFile(ctx, accessKey, access); err != nil {
		return it, err
	}
	it.SetStorageKey("archival", archivalKey)
	it.SetStorageKey("access", accessKey)
	return it, nil
}
