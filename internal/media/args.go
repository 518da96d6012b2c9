package media

import (
	"fmt"
	"strconv"
	"time"
)

// ImageSettings tunes the two image renditions.
type ImageSettings struct {
	// ArchivalMaxEdge is the resize ceiling of the archival copy in pixels.
	ArchivalMaxEdge int
	ArchivalQuality int
	// CropPercent is the share of the frame kept by the centre crop.
	CropPercent   int
	AccessMaxEdge int
	AccessQuality int
}

// DefaultImageSettings are used for zero fields.
var DefaultImageSettings = ImageSettings{
	ArchivalMaxEdge: 6000,
	ArchivalQuality: 85,
	CropPercent:     98,
	AccessMaxEdge:   1200,
	AccessQuality:   75,
}

func (s ImageSettings) withDefaults() ImageSettings {
	d := DefaultImageSettings
	if s.ArchivalMaxEdge > 0 {
		d.ArchivalMaxEdge = s.ArchivalMaxEdge
	}
	if s.ArchivalQuality > 0 {
		d.ArchivalQuality = s.ArchivalQuality
	}
	if s.CropPercent > 0 && s.CropPercent <= 100 {
		d.CropPercent = s.CropPercent
	}
	if s.AccessMaxEdge > 0 {
		d.AccessMaxEdge = s.AccessMaxEdge
	}
	if s.AccessQuality > 0 {
		d.AccessQuality = s.AccessQuality
	}
	return d
}

// ArchivalImageArgs corrects levels and gamma, trims the margin, stretches
// contrast and caps the size of src.
func ArchivalImageArgs(s ImageSettings, src, dst string) []string {
	s = s.withDefaults()
	crop := fmt.Sprintf("%d%%x%d%%+0+0", s.CropPercent, s.CropPercent)
	edge := fmt.Sprintf("%dx%d>", s.ArchivalMaxEdge, s.ArchivalMaxEdge)
	return []string{
		src,
		"-auto-orient",
		"-auto-level",
		"-auto-gamma",
		"-gravity", "center",
		"-crop", crop, "+repage",
		"-contrast-stretch", "0.5%x0.5%",
		"-resize", edge,
		"-quality", strconv.Itoa(s.ArchivalQuality),
		dst,
	}
}

// AccessImageArgs produces the small browsing copy from the archival copy.
func AccessImageArgs(s ImageSettings, src, dst string) []string {
	s = s.withDefaults()
	return []string{
		src,
		"-resize", fmt.Sprintf("%dx%d>", s.AccessMaxEdge, s.AccessMaxEdge),
		"-strip",
		"-quality", strconv.Itoa(s.AccessQuality),
		dst,
	}
}

// MovieArgs scales src to height and, when watermark is set, overlays it
// in the centre of the frame.
func MovieArgs(src, watermark, dst string, height int) []string {
	scale := fmt.Sprintf("scale=-2:%d", height)
	args := []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error", "-i", src}
	if watermark != "" {
		args = append(args,
			"-i", watermark,
			"-filter_complex", fmt.Sprintf("[0:v]%s[base];[base][1:v]overlay=(W-w)/2:(H-h)/2[out]", scale),
			"-map", "[out]", "-map", "0:a?",
		)
	} else {
		args = append(args, "-vf", scale)
	}
	return append(args,
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		dst,
	)
}

// ThumbnailArgs grabs one frame at offset.
func ThumbnailArgs(src, dst string, offset time.Duration, height int) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y", "-loglevel", "error",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		"-i", src,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=-2:%d", height),
		dst,
	}
}

// AudioArgs transcodes src to AAC.
func AudioArgs(src, dst string, bitrateK int) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y", "-loglevel", "error",
		"-i", src,
		"-vn",
		"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", bitrateK),
		dst,
	}
}

// OCRArgs asks tesseract for a searchable PDF and a plain text file, named
// outBase.pdf and outBase.txt.
func OCRArgs(src, outBase, lang string) []string {
	return []string{src, outBase, "-l", lang, "pdf", "txt"}
}

// MergeArgs concatenates pages, in order, into dst.
func MergeArgs(pages []string, dst string) []string {
	args := make([]string, 0, len(pages)+4)
	args = append(args, "--empty", "--pages")
	args = append(args, pages...)
	return append(args, "--", dst)
}

// CompressArgs rewrites src with ghostscript's ebook settings.
func CompressArgs(src, dst string) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dPDFSETTINGS=/ebook",
		"-dNOPAUSE", "-dQUIET", "-dBATCH",
		"-sOutputFile=" + dst,
		src,
	}
}
