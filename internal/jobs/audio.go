package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/digest"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/s3storage"
	"github.com/dharsanguruparan/ArchiveDrop/internal/transcribe"
)

// AudioJob transcodes audio to AAC, transcribes it and stores the audio
// and its WebVTT captions under the hash of the transcoded file. A
// recording without recognizable speech gets captions with no cues.
type AudioJob struct {
	env Env
}

func (j *AudioJob) Run(ctx context.Context, it model.ProcessingItem) (model.ProcessingItem, error) {
	dir, cleanup, err := j.env.scratch(it.Code)
	if err != nil {
		return it, err
	}
	defer cleanup()

	audio := filepath.Join(dir, it.Code+".m4a")
	if err := j.env.Tools.TranscodeAudio(ctx, it.SourcePath, audio); err != nil {
		return it, fmt.Errorf("transcode: %w", err)
	}
	hash, err := digest.File(audio)
	if err != nil {
		return it, err
	}

	audioKey := s3storage.Key(s3storage.Files, it.Code, hash, ".m4a")
	if err := j.env.Store.PutFile(ctx, audioKey, audio); err != nil {
		return it, err
	}
	it.Hash = hash
	it.SetStorageKey("audio", audioKey)

	if j.env.Transcriber == nil {
		j.env.Log.Debug("no transcriber configured", zap.String("code", it.Code))
		return it, nil
	}
	tr, err := j.env.Transcriber.Transcribe(ctx, audio)
	switch {
	case errors.Is(err, transcribe.ErrEmptyTranscript):
		// Silence or music: the captions carry the header only.
		j.env.Log.Info("no speech recognized", zap.String("code", it.Code))
	case err != nil:
		return it, fmt.Errorf("transcribe: %w", err)
	}
	captions := filepath.Join(dir, it.Code+".vtt")
	if err := writeCaptions(captions, tr); err != nil {
		return it, err
	}
	captionsKey := s3storage.Key(s3storage.Files, it.Code, hash, ".vtt")
	if err := j.env.Store.PutFile(ctx, captionsKey, captions); err != nil {
		return it, err
	}
	it.SetStorageKey("captions", captionsKey)
	return it, nil
}

func writeCaptions(path string, tr transcribe.Transcript) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create captions: %w", err)
	}
	if err := transcribe.WriteVTT(f, tr); err != nil {
		f.Close()
		return fmt.Errorf("write captions: %w", err)
	}
	return f.Close()
}
