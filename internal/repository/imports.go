// Package repository persists import session state in Postgres.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/storage"
)

// ErrNotFound is returned when no import has been recorded. It is the same
// value as storage.ErrNotFound so callers can test either store.
var ErrNotFound = storage.ErrNotFound

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ImportRepository wraps all SQL touching the imports table.
type ImportRepository struct {
	db DB
}

// NewImportRepository constructs a repository.
func NewImportRepository(db DB) *ImportRepository {
	return &ImportRepository{db: db}
}

// SaveImport inserts the state or updates the row with the same id.
func (r *ImportRepository) SaveImport(ctx context.Context, s model.ImportState) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO imports (id, collection_name, collection_type, prefix, base_number, last_code, folder_path, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT (id) DO UPDATE SET
			collection_name = EXCLUDED.collection_name,
			collection_type = EXCLUDED.collection_type,
			prefix = EXCLUDED.prefix,
			base_number = EXCLUDED.base_number,
			last_code = EXCLUDED.last_code,
			folder_path = EXCLUDED.folder_path,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, s.ID, s.CollectionName, string(s.CollectionType), s.Prefix, s.BaseNumber, s.LastCode, s.FolderPath, string(s.Status), now)
	if err != nil {
		return fmt.Errorf("save import: %w", err)
	}
	return nil
}

// UpdateStatus changes the status of a recorded import.
func (r *ImportRepository) UpdateStatus(ctx context.Context, id string, status model.ImportStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE imports SET status=$1, updated_at=$2 WHERE id=$3`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LastImport returns the most recently updated import.
func (r *ImportRepository) LastImport(ctx context.Context) (model.ImportState, error) {
	var (
		s     model.ImportState
		typ   string
		state string
	)
	row := r.db.QueryRow(ctx, `
		SELECT id, collection_name, collection_type, prefix, base_number, last_code, folder_path, status, created_at, updated_at
		FROM imports ORDER BY updated_at DESC LIMIT 1
	`)
	err := row.Scan(&s.ID, &s.CollectionName, &typ, &s.Prefix, &s.BaseNumber, &s.LastCode, &s.FolderPath, &state, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ImportState{}, ErrNotFound
		}
		return model.ImportState{}, fmt.Errorf("select import: %w", err)
	}
	s.CollectionType = model.ProcessingType(typ)
	s.Status = model.ImportStatus(state)
	return s, nil
}
