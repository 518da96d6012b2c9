package renamer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/ledger"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

// RollbackReport summarizes what a rollback changed.
type RollbackReport struct {
	FilesRestored int
	DirsRestored  int
	DirsRemoved   int
	// Missing counts records whose renamed entry no longer exists.
	Missing int
	// Kept lists renamed directories left in place because they still
	// hold entries the rollback did not account for.
	Kept []string
}

// Rollback reverses every rename recorded for collectionPath. File records
// are replayed newest first into their folder's original name, recreating
// it when needed; then folder records are replayed newest first. A
// renamed directory is renamed back when its original name is free and is
// otherwise removed only if empty.
//
// Rollback is single use: the records are discarded afterwards, so a second
// call is a no-op. Calling it for a collection with no records is not an
// error.
func (e *Engine) Rollback(ctx context.Context, collectionPath string) (*RollbackReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := ledger.Key(collectionPath)
	log := e.log.With(zap.String("collection", root))

	e.mu.Lock()
	recs, inMemory := e.records[root]
	delete(e.records, root)
	e.mu.Unlock()

	if !inMemory && e.ledger != nil {
		loaded, err := e.ledger.Load(root)
		if err != nil {
			return nil, fmt.Errorf("load rename ledger: %w", err)
		}
		recs = loaded
	}

	report := &RollbackReport{}
	if len(recs) == 0 {
		log.Debug("nothing to roll back")
		return report, e.discardLedger(root)
	}
	log.Info("rolling back collection", zap.Int("records", len(recs)), zap.Bool("from_ledger", !inMemory))

	originalDir := make(map[string]string)
	for _, rec := range recs {
		if isFolderRecord(rec) {
			originalDir[rec.CurrentName] = rec.OriginalName
		}
	}

	var errs *multierror.Error
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if isFolderRecord(rec) {
			continue
		}
		if err := e.restoreFile(root, rec, originalDir, report); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if !isFolderRecord(rec) {
			continue
		}
		if err := e.restoreDir(root, rec, report); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := e.discardLedger(root); err != nil {
		errs = multierror.Append(errs, err)
	}

	for _, dir := range report.Kept {
		log.Warn("renamed folder not empty after rollback, left in place", zap.String("path", dir))
	}
	log.Info("rollback finished",
		zap.Int("files", report.FilesRestored),
		zap.Int("dirs_restored", report.DirsRestored),
		zap.Int("dirs_removed", report.DirsRemoved),
		zap.Int("missing", report.Missing),
	)
	return report, errs.ErrorOrNil()
}

// isFolderRecord reports whether rec renamed a top-level folder. Entries
// nested in a folder, directories included, are restored in the first pass
// together with files.
func isFolderRecord(rec model.RenameRecord) bool {
	return rec.IsDirectory && rec.ParentFolder == ""
}

func (e *Engine) restoreFile(root string, rec model.RenameRecord, originalDir map[string]string, report *RollbackReport) error {
	currentParent := filepath.Join(root, rec.ParentFolder)
	originalParent := currentParent
	if rec.ParentFolder != "" {
		if orig, ok := originalDir[rec.ParentFolder]; ok {
			originalParent = filepath.Join(root, orig)
		}
	}
	from := filepath.Join(currentParent, rec.CurrentName)
	to := filepath.Join(originalParent, rec.OriginalName)

	if _, err := e.fs.Stat(from); errors.Is(err, fs.ErrNotExist) {
		report.Missing++
		return nil
	} else if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}
	if from == to {
		return nil
	}
	if err := e.fs.MkdirAll(originalParent, 0o755); err != nil {
		return fmt.Errorf("recreate %s: %w", originalParent, err)
	}
	if err := e.ensureFree(to); err != nil {
		return fmt.Errorf("restore %s: %w", rec.OriginalName, err)
	}
	if err := e.fs.Rename(from, to); err != nil {
		return fmt.Errorf("restore %s: %w", rec.OriginalName, err)
	}
	report.FilesRestored++
	return nil
}

func (e *Engine) restoreDir(root string, rec model.RenameRecord, report *RollbackReport) error {
	current := filepath.Join(root, rec.CurrentName)
	original := filepath.Join(root, rec.OriginalName)
	if current == original {
		return nil
	}

	if _, err := e.fs.Stat(current); errors.Is(err, fs.ErrNotExist) {
		report.Missing++
		return nil
	} else if err != nil {
		return fmt.Errorf("stat %s: %w", current, err)
	}

	if _, err := e.fs.Stat(original); errors.Is(err, fs.ErrNotExist) {
		if err := e.fs.Rename(current, original); err != nil {
			return fmt.Errorf("restore folder %s: %w", rec.OriginalName, err)
		}
		report.DirsRestored++
		return nil
	}

	empty, err := afero.IsEmpty(e.fs, current)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", current, err)
	}
	if !empty {
		report.Kept = append(report.Kept, current)
		return nil
	}
	if err := e.fs.Remove(current); err != nil {
		return fmt.Errorf("remove %s: %w", current, err)
	}
	report.DirsRemoved++
	return nil
}

func (e *Engine) discardLedger(root string) error {
	if e.ledger == nil {
		return nil
	}
	return e.ledger.Discard(root)
}
