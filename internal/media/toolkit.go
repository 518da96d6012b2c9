package media

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
)

// Paths locates the external programs.
type Paths struct {
	FFmpeg      string
	Magick      string
	Tesseract   string
	Qpdf        string
	Ghostscript string
}

// DefaultPaths resolves every program from PATH.
var DefaultPaths = Paths{
	FFmpeg:      "ffmpeg",
	Magick:      "magick",
	Tesseract:   "tesseract",
	Qpdf:        "qpdf",
	Ghostscript: "gs",
}

// Toolkit runs the media programs.
type Toolkit struct {
	Runner Runner
	Paths  Paths
	Image  ImageSettings
	// MovieHeight is the output height of transcoded movies.
	MovieHeight int
	// ThumbHeight is the height of movie thumbnails.
	ThumbHeight int
	// ThumbOffset is where in the movie the thumbnail frame is taken.
	ThumbOffset  time.Duration
	AudioBitrate int
	OCRLanguage  string
}

// NewToolkit returns a Toolkit running real programs with default settings.
func NewToolkit(paths Paths, log *zap.Logger) *Toolkit {
	return &Toolkit{
		Runner:       ExecRunner{Log: log},
		Paths:        paths,
		Image:        DefaultImageSettings,
		MovieHeight:  720,
		ThumbHeight:  360,
		ThumbOffset:  5 * time.Second,
		AudioBitrate: 96,
		OCRLanguage:  "eng",
	}
}

func (t *Toolkit) run(ctx context.Context, tool string, args []string) error {
	res := t.Runner.Run(ctx, tool, args...)
	if res.Err != nil {
		return newToolError(tool, args, res)
	}
	return nil
}

// ArchivalImage writes the archival rendition of src to dst.
func (t *Toolkit) ArchivalImage(ctx context.Context, src, dst string) error {
	return t.run(ctx, t.Paths.Magick, ArchivalImageArgs(t.Image, src, dst))
}

// AccessImage writes the access rendition of src to dst.
func (t *Toolkit) AccessImage(ctx context.Context, src, dst string) error {
	return t.run(ctx, t.Paths.Magick, AccessImageArgs(t.Image, src, dst))
}

// TranscodeMovie writes the watermarked access movie.
func (t *Toolkit) TranscodeMovie(ctx context.Context, src, watermark, dst string) error {
	return t.run(ctx, t.Paths.FFmpeg, MovieArgs(src, watermark, dst, t.MovieHeight))
}

// Thumbnail extracts a still frame of src at ThumbOffset. ffmpeg writes no
// frame when the movie is shorter than the offset, so the first frame is
// taken instead.
func (t *Toolkit) Thumbnail(ctx context.Context, src, dst string) error {
	err := t.run(ctx, t.Paths.FFmpeg, ThumbnailArgs(src, dst, t.ThumbOffset, t.ThumbHeight))
	if t.ThumbOffset <= 0 || ctx.Err() != nil {
		return err
	}
	if err == nil && nonEmpty(dst) {
		return nil
	}
	return t.run(ctx, t.Paths.FFmpeg, ThumbnailArgs(src, dst, 0, t.ThumbHeight))
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// TranscodeAudio writes an AAC copy of src.
func (t *Toolkit) TranscodeAudio(ctx context.Context, src, dst string) error {
	return t.run(ctx, t.Paths.FFmpeg, AudioArgs(src, dst, t.AudioBitrate))
}

// OCR runs tesseract on one page image. Output lands in outBase.pdf and
// outBase.txt; tesseract may finish writing them after it exits.
func (t *Toolkit) OCR(ctx context.Context, src, outBase string) error {
	return t.run(ctx, t.Paths.Tesseract, OCRArgs(src, outBase, t.OCRLanguage))
}

// MergePDF concatenates page PDFs into dst.
func (t *Toolkit) MergePDF(ctx context.Context, pages []string, dst string) error {
	return t.run(ctx, t.Paths.Qpdf, MergeArgs(pages, dst))
}

// CompressPDF writes a size-optimized copy of src to dst.
func (t *Toolkit) CompressPDF(ctx context.Context, src, dst string) error {
	return t.run(ctx, t.Paths.Ghostscript, CompressArgs(src, dst))
}
