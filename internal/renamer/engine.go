// Package renamer assigns permanent inventory codes to the files and folders
// of a collection by renaming them in place, and records every rename so the
// whole operation can be reversed.
package renamer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/ledger"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

var (
	// ErrUnreadable is returned when a collection directory cannot be
	// listed. It aborts the whole scan.
	ErrUnreadable = errors.New("directory unreadable")
	// ErrTargetExists is reported for an entry whose new name is taken.
	ErrTargetExists = errors.New("rename target already exists")
	// ErrNumbersExhausted is reported once the seven digit range runs out.
	ErrNumbersExhausted = errors.New("inventory numbers exhausted")
)

const (
	// A busy directory is retried three times after the first attempt.
	defaultDirAttempts = 4
	defaultDirBackoff  = 200 * time.Millisecond
)

// Result is the outcome of renaming one collection.
type Result struct {
	Items   []model.ProcessingItem
	Records []model.RenameRecord
	// NextNumber is the first inventory number left unused.
	NextNumber int
	// LastCode is the highest folder-level code issued, empty if none.
	LastCode string
	// Metadata holds the rows of top-level CSV files; FolderMetadata the
	// rows of per-folder CSV files keyed by the folder's new code.
	Metadata       []Row
	FolderMetadata map[string][]Row
	// Skipped lists entries deliberately left untouched.
	Skipped []string
	// Err aggregates per-item rename failures. Items listed here were not
	// renamed and their numbers were handed to the next entry.
	Err error
}

// Engine renames collections. One Engine may serve several collections;
// the records of each are kept apart by collection path.
type Engine struct {
	fs          afero.Fs
	ledger      *ledger.Ledger
	log         *zap.Logger
	dirAttempts uint
	dirBackoff  time.Duration

	mu      sync.Mutex
	records map[string][]model.RenameRecord
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger persists every rename record so Rollback works after a restart.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithDirRetry sets how many times in total a directory rename is
// attempted, first try included, and the initial backoff between attempts.
// Zero values keep the defaults.
func WithDirRetry(attempts uint, initial time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.dirAttempts = attempts
		}
		if initial > 0 {
			e.dirBackoff = initial
		}
	}
}

// New returns an Engine operating on fsys.
func New(fsys afero.Fs, opts ...Option) *Engine {
	e := &Engine{
		fs:          fsys,
		log:         zap.NewNop(),
		dirAttempts: defaultDirAttempts,
		dirBackoff:  defaultDirBackoff,
		records:     make(map[string][]model.RenameRecord),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the state of one Rename call. It is owned by a single
// goroutine.
type run struct {
	root     string
	prefix   string
	number   int
	res      *Result
	errs     *multierror.Error
	rootRows rowIndex
}

// Rename walks collectionPath, assigns sequential inventory codes starting
// at start and renames every entry. Directories are numbered first, then
// loose files, each group in natural order. The files of a directory get
// sequence numbers 01..N under the directory's code.
//
// A failure to rename one entry is recorded in Result.Err and the walk
// continues. An unreadable directory or a ledger write failure aborts the
// walk; the partial Result is still returned so it can be rolled back.
func (e *Engine) Rename(ctx context.Context, collectionPath, prefix string, start int) (*Result, error) {
	if err := model.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	if start < 1 || start > model.MaxInventoryNumber {
		return nil, fmt.Errorf("start number %d out of range", start)
	}
	root := ledger.Key(collectionPath)
	entries, err := afero.ReadDir(e.fs, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, root, err)
	}

	r := &run{
		root:   root,
		prefix: prefix,
		number: start,
		res:    &Result{FolderMetadata: make(map[string][]Row)},
	}
	var dirs, files []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, "."):
			r.res.Skipped = append(r.res.Skipped, name)
		case entry.IsDir():
			dirs = append(dirs, name)
		case !entry.Mode().IsRegular():
			r.res.Skipped = append(r.res.Skipped, name)
		case isCSV(name):
			rows, err := readCSV(e.fs, filepath.Join(root, name))
			if err != nil {
				r.errs = multierror.Append(r.errs, fmt.Errorf("%s: %w", name, err))
			}
			r.res.Metadata = append(r.res.Metadata, rows...)
		default:
			files = append(files, name)
		}
	}
	r.rootRows = indexRows(r.res.Metadata)
	sortNames(dirs)
	sortNames(files)

	log := e.log.With(zap.String("collection", root), zap.String("prefix", prefix))
	log.Info("renaming collection", zap.Int("start", start), zap.Int("folders", len(dirs)), zap.Int("files", len(files)))

	fatal := e.renameEntries(ctx, r, dirs, files)
	r.res.NextNumber = r.number
	r.res.Records = e.Records(root)
	r.res.Err = r.errs.ErrorOrNil()
	if r.res.Err != nil {
		log.Warn("some entries were not renamed", zap.Error(r.res.Err))
	}
	if fatal != nil {
		log.Error("rename aborted", zap.Error(fatal))
		return r.res, fatal
	}
	log.Info("collection renamed", zap.Int("items", len(r.res.Items)), zap.Int("next", r.number))
	return r.res, nil
}

func (e *Engine) renameEntries(ctx context.Context, r *run, dirs, files []string) error {
	for _, name := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		code, ok := r.allocate()
		if !ok {
			return ErrNumbersExhausted
		}
		folder := model.FolderCode(r.prefix, code)
		err := e.renameDir(ctx, filepath.Join(r.root, name), filepath.Join(r.root, folder))
		if err != nil {
			r.release()
			r.errs = multierror.Append(r.errs, fmt.Errorf("folder %s: %w", name, err))
			continue
		}
		rec := model.RenameRecord{CurrentName: folder, OriginalName: name, IsDirectory: true}
		if err := e.record(r.root, rec); err != nil {
			return err
		}
		r.res.LastCode = folder
		if err := e.renameGroup(ctx, r, folder, code, r.rootRows.lookup(name)); err != nil {
			return err
		}
	}
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		code, ok := r.allocate()
		if !ok {
			return ErrNumbersExhausted
		}
		newName := model.FileCode(r.prefix, code, 1) + filepath.Ext(name)
		if err := e.renameFile(filepath.Join(r.root, name), filepath.Join(r.root, newName)); err != nil {
			r.release()
			r.errs = multierror.Append(r.errs, fmt.Errorf("file %s: %w", name, err))
			continue
		}
		rec := model.RenameRecord{CurrentName: newName, OriginalName: name}
		if err := e.record(r.root, rec); err != nil {
			return err
		}
		r.res.LastCode = model.FolderCode(r.prefix, code)
		r.res.Items = append(r.res.Items, model.ProcessingItem{
			Code:       model.FileCode(r.prefix, code, 1),
			SourcePath: filepath.Join(r.root, newName),
			Fields:     mergeFields(r.rootRows.lookup(name)),
		})
	}
	return nil
}

// renameGroup numbers the files of an already renamed folder.
func (e *Engine) renameGroup(ctx context.Context, r *run, folder string, number int, folderRow Row) error {
	dir := filepath.Join(r.root, folder)
	entries, err := afero.ReadDir(e.fs, dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreadable, dir, err)
	}
	var files []string
	var rows []Row
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, "."), entry.IsDir(), !entry.Mode().IsRegular():
			// Only one level is numbered. The entry is recorded under its
			// own name so rollback carries it back to the original folder.
			rec := model.RenameRecord{CurrentName: name, OriginalName: name, IsDirectory: entry.IsDir(), ParentFolder: folder}
			if err := e.record(r.root, rec); err != nil {
				return err
			}
			r.res.Skipped = append(r.res.Skipped, filepath.Join(folder, name))
		case isCSV(name):
			rec := model.RenameRecord{CurrentName: name, OriginalName: name, ParentFolder: folder}
			if err := e.record(r.root, rec); err != nil {
				return err
			}
			parsed, err := readCSV(e.fs, filepath.Join(dir, name))
			if err != nil {
				r.errs = multierror.Append(r.errs, fmt.Errorf("%s/%s: %w", folder, name, err))
			}
			rows = append(rows, parsed...)
		default:
			files = append(files, name)
		}
	}
	if len(rows) > 0 {
		r.res.FolderMetadata[folder] = rows
	}
	folderRows := indexRows(rows)
	sortNames(files)

	seq := 1
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := model.FileCode(r.prefix, number, seq)
		newName := code + filepath.Ext(name)
		if err := e.renameFile(filepath.Join(dir, name), filepath.Join(dir, newName)); err != nil {
			r.errs = multierror.Append(r.errs, fmt.Errorf("file %s/%s: %w", folder, name, err))
			continue
		}
		rec := model.RenameRecord{CurrentName: newName, OriginalName: name, ParentFolder: folder}
		if err := e.record(r.root, rec); err != nil {
			return err
		}
		seq++
		r.res.Items = append(r.res.Items, model.ProcessingItem{
			Code:       code,
			SourcePath: filepath.Join(dir, newName),
			Folder:     folder,
			Fields:     mergeFields(folderRow, r.rootRows.lookup(name), folderRows.lookup(name)),
		})
	}
	return nil
}

func (r *run) allocate() (int, bool) {
	if r.number > model.MaxInventoryNumber {
		return 0, false
	}
	n := r.number
	r.number++
	return n, true
}

// release hands the number just allocated back so a failed entry leaves no
// gap in the sequence.
func (r *run) release() {
	r.number--
}

func (e *Engine) renameFile(from, to string) error {
	if from == to {
		return nil
	}
	if err := e.ensureFree(to); err != nil {
		return err
	}
	return e.fs.Rename(from, to)
}

// renameDir retries transient failures such as a scanner briefly holding
// the directory open.
func (e *Engine) renameDir(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	if err := e.ensureFree(to); err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.dirBackoff
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := e.fs.Rename(from, to)
		if err == nil {
			return struct{}{}, nil
		}
		if !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		e.log.Debug("directory busy, retrying", zap.String("path", from), zap.Int("attempt", attempt), zap.Error(err))
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.dirAttempts))
	return err
}

func (e *Engine) ensureFree(path string) error {
	if _, err := e.fs.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrTargetExists, filepath.Base(path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETXTBSY) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}

func (e *Engine) record(root string, rec model.RenameRecord) error {
	e.mu.Lock()
	e.records[root] = append(e.records[root], rec)
	e.mu.Unlock()
	if e.ledger == nil {
		return nil
	}
	if err := e.ledger.Append(root, rec); err != nil {
		return fmt.Errorf("persist rename of %s: %w", rec.OriginalName, err)
	}
	return nil
}

// Records returns a copy of the rename records held in memory for
// collectionPath.
func (e *Engine) Records(collectionPath string) []model.RenameRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	recs := e.records[ledger.Key(collectionPath)]
	out := make([]model.RenameRecord, len(recs))
	copy(out, recs)
	return out
}

// Commit forgets the records of collectionPath once its import has been
// finalized; the renames become permanent and Rollback turns into a no-op.
func (e *Engine) Commit(collectionPath string) error {
	root := ledger.Key(collectionPath)
	e.mu.Lock()
	delete(e.records, root)
	e.mu.Unlock()
	if e.ledger != nil {
		return e.ledger.Discard(root)
	}
	return nil
}
