package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs    []execCall
	affected int64
	row      pgx.Row
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql, args})
	return pgconn.NewCommandTag("UPDATE " + strconv.FormatInt(f.affected, 10)), nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return f.row }

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func TestSaveImport(t *testing.T) {
	db := &fakeDB{}
	repo := NewImportRepository(db)
	state := model.ImportState{
		ID: "id-1", CollectionName: "Harbour", CollectionType: model.TypeImage,
		Prefix: "ABC", BaseNumber: 5, LastCode: "ABC_0000009", FolderPath: "/in/Harbour", Status: model.ImportRenamed,
	}
	require.NoError(t, repo.SaveImport(context.Background(), state))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "ON CONFLICT (id)")
	args := db.execs[0].args
	assert.Equal(t, "id-1", args[0])
	assert.Equal(t, "image", args[2])
	assert.Equal(t, 5, args[4])
	assert.Equal(t, "renamed", args[7])
}

func TestUpdateStatus(t *testing.T) {
	db := &fakeDB{affected: 1}
	repo := NewImportRepository(db)
	require.NoError(t, repo.UpdateStatus(context.Background(), "id-1", model.ImportFinalized))
	assert.Equal(t, "finalized", db.execs[0].args[0])

	db.affected = 0
	assert.ErrorIs(t, repo.UpdateStatus(context.Background(), "gone", model.ImportFinalized), ErrNotFound)
}

func TestLastImport(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{row: rowFunc(func(dest ...any) error {
		*dest[0].(*string) = "id-2"
		*dest[1].(*string) = "Letters"
		*dest[2].(*string) = "document"
		*dest[3].(*string) = "XYZ"
		*dest[4].(*int) = 40
		*dest[5].(*string) = "XYZ_0000044"
		*dest[6].(*string) = "/in/Letters"
		*dest[7].(*string) = "finalized"
		*dest[8].(*time.Time) = now
		*dest[9].(*time.Time) = now
		return nil
	})}
	got, err := NewImportRepository(db).LastImport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ImportState{
		ID: "id-2", CollectionName: "Letters", CollectionType: model.TypeDocument, Prefix: "XYZ",
		BaseNumber: 40, LastCode: "XYZ_0000044", FolderPath: "/in/Letters", Status: model.ImportFinalized,
		CreatedAt: now, UpdatedAt: now,
	}, got)
}

func TestLastImportNone(t *testing.T) {
	db := &fakeDB{row: rowFunc(func(...any) error { return pgx.ErrNoRows })}
	_, err := NewImportRepository(db).LastImport(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	db.row = rowFunc(func(...any) error { return errors.New("conn reset") })
	_, err = NewImportRepository(db).LastImport(context.Background())
	assert.ErrorContains(t, err, "conn reset")
}
