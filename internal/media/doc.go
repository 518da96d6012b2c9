// Package media wraps the external programs that transform source files:
// ffmpeg for movies and audio, ImageMagick for images, tesseract for OCR,
// qpdf to merge PDF pages and ghostscript to compress the result.
//
// Argument construction is kept in pure functions (see args.go) so the
// command lines can be checked without the tools installed; Toolkit runs
// them through a Runner.
package media
