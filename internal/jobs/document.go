package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/digest"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/s3storage"
)

// ErrPageCount is returned when the merged document does not have one
// page per source page.
var ErrPageCount = errors.New("merged document page count mismatch")

// DocumentJob OCRs every page of a document, merges the page PDFs in
// order, compresses the result and stores it with a page-indexed JSON
// sidecar holding the text. Pages that are already PDFs skip OCR and
// contribute their text layer. A failed page fails the whole item; nothing
// is uploaded for it.
type DocumentJob struct {
	env Env
}

type page struct {
	source string
	pdf    string
	text   string
}

func (j *DocumentJob) Run(ctx context.Context, it model.ProcessingItem) (model.ProcessingItem, error) {
	sources, err := documentPages(it)
	if err != nil {
		return it, err
	}
	if len(sources) == 0 {
		return it, fmt.Errorf("document %s has no pages", it.Code)
	}
	log := j.env.Log.With(zap.String("code", it.Code), zap.Int("sources", len(sources)))

	dir, cleanup, err := j.env.scratch(it.Code)
	if err != nil {
		return it, err
	}
	defer cleanup()

	var pages []page
	var errs *multierror.Error
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return it, err
		}
		got, err := j.preparePage(ctx, dir, i+1, src)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("page %d (%s): %w", i+1, filepath.Base(src), err))
			continue
		}
		pages = append(pages, got...)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return it, err
	}

	var pdfs []string
	for _, p := range pages {
		if p.pdf != "" {
			pdfs = append(pdfs, p.pdf)
		}
	}
	merged := filepath.Join(dir, "merged.pdf")
	if err := j.env.Tools.MergePDF(ctx, pdfs, merged); err != nil {
		return it, fmt.Errorf("merge: %w", err)
	}
	compressed := filepath.Join(dir, it.Code+".pdf")
	if err := j.env.Tools.CompressPDF(ctx, merged, compressed); err != nil {
		return it, fmt.Errorf("compress: %w", err)
	}
	n, err := j.env.PageCount(compressed)
	if err != nil {
		return it, fmt.Errorf("inspect merged document: %w", err)
	}
	if n != len(pages) {
		return it, fmt.Errorf("%w: %d pages, want %d", ErrPageCount, n, len(pages))
	}

	hash, err := digest.File(compressed)
	if err != nil {
		return it, err
	}
	sidecar, err := textSidecar(pages)
	if err != nil {
		return it, err
	}

	docKey := s3storage.Key(s3storage.Files, it.Code, hash, ".pdf")
	if err := j.env.Store.PutFile(ctx, docKey, compressed); err != nil {
		return it, err
	}
	textKey := s3storage.Key(s3storage.Files, it.Code, hash, ".json")
	if err := j.env.Store.Put(ctx, textKey, sidecar, "application/json"); err != nil {
		return it, err
	}
	if info, err := os.Stat(compressed); err == nil {
		log.Info("document stored", zap.Int("pages", n), zap.String("size", humanize.Bytes(uint64(info.Size()))))
	}

	it.Hash = hash
	it.Pages = n
	it.SetStorageKey("document", docKey)
	it.SetStorageKey("text", textKey)
	return it, nil
}

// preparePage yields the PDF pages contributed by one source file.
func (j *DocumentJob) preparePage(ctx context.Context, dir string, index int, src string) ([]page, error) {
	if strings.EqualFold(filepath.Ext(src), ".pdf") {
		texts, err := j.env.PageTexts(src)
		if err != nil {
			return nil, err
		}
		if len(texts) == 0 {
			return nil, errors.New("pdf has no pages")
		}
		// The file is merged once; each of its pages keeps its own text.
		out := make([]page, len(texts))
		for i, t := range texts {
			out[i] = page{source: src, text: t}
		}
		out[0].pdf = src
		return out, nil
	}

	base := filepath.Join(dir, fmt.Sprintf("page-%04d", index))
	if err := j.env.Tools.OCR(ctx, src, base); err != nil {
		return nil, err
	}
	pdfPath, txtPath := base+".pdf", base+".txt"
	if err := j.waitForOutput(ctx, pdfPath, txtPath); err != nil {
		return nil, err
	}
	text, err := os.ReadFile(txtPath)
	if err != nil {
		return nil, fmt.Errorf("read ocr text: %w", err)
	}
	return []page{{source: src, pdf: pdfPath, text: strings.TrimSpace(string(text))}}, nil
}

// waitForOutput polls until every path exists. OCR engines can return
// before their output files are visible.
func (j *DocumentJob) waitForOutput(ctx context.Context, paths ...string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = j.env.OutputDelay
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return struct{}{}, fmt.Errorf("ocr output %s missing", filepath.Base(p))
				}
				return struct{}{}, backoff.Permanent(err)
			}
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(j.env.OutputAttempts))
	return err
}

// textSidecar encodes page texts keyed by their 1-based page number.
func textSidecar(pages []page) ([]byte, error) {
	byPage := make(map[string]string, len(pages))
	for i, p := range pages {
		byPage[strconv.Itoa(i+1)] = p.text
	}
	data, err := json.Marshal(byPage)
	if err != nil {
		return nil, fmt.Errorf("encode text sidecar: %w", err)
	}
	return data, nil
}

// documentPages lists the page files of an item: the files of its group
// folder, or the item's own file.
func documentPages(it model.ProcessingItem) ([]string, error) {
	if it.GroupPath == "" {
		return []string{it.SourcePath}, nil
	}
	entries, err := os.ReadDir(it.GroupPath)
	if err != nil {
		return nil, fmt.Errorf("list document folder: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		out = append(out, filepath.Join(it.GroupPath, name))
	}
	// Renamed pages carry zero-padded sequence numbers, so byte order is
	// page order.
	sort.Strings(out)
	return out, nil
}
