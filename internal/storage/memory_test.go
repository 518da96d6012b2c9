package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.LastImport(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.UpdateStatus(ctx, "nope", model.ImportFinalized), ErrNotFound)
	assert.Error(t, m.SaveImport(ctx, model.ImportState{}))

	require.NoError(t, m.SaveImport(ctx, model.ImportState{ID: "a", Prefix: "ABC", BaseNumber: 5, Status: model.ImportRenamed}))
	first, err := m.LastImport(ctx)
	require.NoError(t, err)
	assert.False(t, first.CreatedAt.IsZero())

	require.NoError(t, m.SaveImport(ctx, model.ImportState{ID: "b", Prefix: "XYZ", BaseNumber: 1}))
	require.NoError(t, m.UpdateStatus(ctx, "a", model.ImportFinalized))

	last, err := m.LastImport(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", last.ID)

	require.NoError(t, m.SaveImport(ctx, model.ImportState{ID: "a", Prefix: "ABC", BaseNumber: 5, Status: model.ImportFinalized}))
	again, err := m.LastImport(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", again.ID)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)

	again.Prefix = "changed"
	stored, _ := m.LastImport(ctx)
	assert.Equal(t, "ABC", stored.Prefix, "callers get a copy")
}
