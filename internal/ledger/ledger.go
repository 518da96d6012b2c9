// Package ledger persists rename records so a collection can be rolled back
// after the process that renamed it has exited. Each collection gets its own
// append-only JSON-lines file.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/dharsanguruparan/ArchiveDrop/internal/digest"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

type entry struct {
	Collection string             `json:"collection"`
	Record     model.RenameRecord `json:"record"`
}

// Ledger stores rename records under dir on fs.
type Ledger struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// New creates a Ledger. The directory is created lazily on first append.
func New(fs afero.Fs, dir string) *Ledger {
	return &Ledger{fs: fs, dir: dir}
}

// Key returns the canonical form of a collection path: absolute, with
// symlinks resolved while the path exists. Every record and log file is
// filed under it, so a relative path and its absolute form name the same
// collection.
func Key(collection string) string {
	abs, err := filepath.Abs(collection)
	if err != nil {
		return filepath.Clean(collection)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Path returns the log file used for collection.
func (l *Ledger) Path(collection string) string {
	return filepath.Join(l.dir, digest.String(Key(collection))+".jsonl")
}

// Append writes rec to the collection's log and syncs it to disk.
func (l *Ledger) Append(collection string, rec model.RenameRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fs.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	line, err := json.Marshal(entry{Collection: Key(collection), Record: rec})
	if err != nil {
		return fmt.Errorf("encode rename record: %w", err)
	}
	f, err := l.fs.OpenFile(l.Path(collection), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return f.Sync()
}

// Load returns the records logged for collection in append order. A missing
// log yields no records. A torn final line, left by a crash mid-append, is
// ignored.
func (l *Ledger) Load(collection string) ([]model.RenameRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.fs.Open(l.Path(collection))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var (
		records []model.RenameRecord
		torn    error
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if torn != nil {
			// Only the last line may be incomplete.
			return nil, torn
		}
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			torn = fmt.Errorf("decode ledger line %d: %w", len(records)+1, err)
			continue
		}
		records = append(records, e.Record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return records, nil
}

// Discard removes the collection's log. Discarding a missing log is not an
// error.
func (l *Ledger) Discard(collection string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.fs.Remove(l.Path(collection))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard ledger: %w", err)
	}
	return nil
}
