package jobs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dharsanguruparan/ArchiveDrop/internal/digest"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/s3storage"
)

// MovieJob transcodes a movie with a centred watermark, grabs a thumbnail
// and stores both under the hash of the transcoded file.
type MovieJob struct {
	env Env
}

func (j *MovieJob) Run(ctx context.Context, it model.ProcessingItem) (model.ProcessingItem, error) {
	dir, cleanup, err := j.env.scratch(it.Code)
	if err != nil {
		return it, err
	}
	defer cleanup()

	movie := filepath.Join(dir, it.Code+".mp4")
	if err := j.env.Tools.TranscodeMovie(ctx, it.SourcePath, j.env.Watermark, movie); err != nil {
		return it, fmt.Errorf("transcode: %w", err)
	}
	thumb := filepath.Join(dir, it.Code+"_thumb.jpg")
	if err := j.env.Tools.Thumbnail(ctx, movie, thumb); err != nil {
		return it, fmt.Errorf("thumbnail: %w", err)
	}
	hash, err := digest.File(movie)
	if err != nil {
		return it, err
	}

	movieKey := s3storage.Key(s3storage.Files, it.Code, hash, ".mp4")
	if err := j.env.Store.PutFile(ctx, movieKey, movie); err != nil {
		return it, err
	}
	thumbKey := s3storage.Key(s3storage.Files, it.Code, hash, "_thumb.jpg")
	if err := j.env.Store.PutFile(ctx, thumbKey, thumb); err != nil {
		return it, err
	}
	it.Hash = hash
	it.SetStorageKey("movie", movieKey)
	it.SetStorageKey("thumbnail", thumbKey)
	return it, nil
}
