package purge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

type fakeCatalog struct {
	deleted []string
	err     error
}

func (f *fakeCatalog) DeleteImport(_ context.Context, code string) error {
	f.deleted = append(f.deleted, code)
	return f.err
}

type fakeStore struct {
	mu      sync.Mutex
	keys    []string
	deleted []string
	failOn  string
}

func (f *fakeStore) List(_ context.Context, prefix, _ string) ([]string, error) {
	if f.failOn != "" && strings.HasPrefix(prefix, f.failOn) {
		return nil, errors.New("list failed")
	}
	var out []string
	for _, k := range f.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteMany(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
	return nil
}

var state = model.ImportState{Prefix: "ABC", BaseNumber: 5}

func TestPurge(t *testing.T) {
	cat := &fakeCatalog{}
	store := &fakeStore{keys: []string{
		"images/archival/ABC_0000004_01.jpg",
		"images/archival/ABC_0000005_01.jpg",
		"images/access/ABC_0000005_01.jpg",
		"images/access/ABC_0000012_03.jpg",
		"files/ABC_0000006_01_ffee.mp4",
		"files/ABC_0000006_deadbeef.pdf",
		"files/ABCD_0000009_01_aa.mp4",
		"files/XYZ_0000009_01_aa.mp4",
	}}

	report, err := New(cat, store, zaptest.NewLogger(t)).Purge(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"ABC_0000005"}, cat.deleted)
	assert.True(t, report.CatalogDeleted)
	sort.Strings(store.deleted)
	assert.Equal(t, []string{
		"files/ABC_0000006_01_ffee.mp4",
		"files/ABC_0000006_deadbeef.pdf",
		"images/access/ABC_0000005_01.jpg",
		"images/access/ABC_0000012_03.jpg",
		"images/archival/ABC_0000005_01.jpg",
	}, store.deleted)
	assert.Equal(t, map[string]int{"images/archival/": 1, "images/access/": 2, "files/": 2}, report.Deleted)
}

func TestPurgeCollectsFailures(t *testing.T) {
	cat := &fakeCatalog{err: errors.New("catalog down")}
	store := &fakeStore{failOn: "files/", keys: []string{"images/access/ABC_0000005_01.jpg"}}

	report, err := New(cat, store, nil).Purge(context.Background(), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog down")
	assert.Contains(t, err.Error(), "list failed")
	assert.False(t, report.CatalogDeleted)
	assert.Equal(t, []string{"images/access/ABC_0000005_01.jpg"}, store.deleted)
}

func TestPurgeWithoutImport(t *testing.T) {
	_, err := New(&fakeCatalog{}, &fakeStore{}, nil).Purge(context.Background(), model.ImportState{})
	assert.ErrorIs(t, err, ErrNoImport)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"ABC_0000005_01.jpg", true},
		{"ABC_0000004_99.jpg", false},
		{"ABC_1000000_01.jpg", true},
		{"ABC_0000005.pdf", true},
		{"ABCD_0000009_01.jpg", false},
		{"ABC.jpg", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.name, "ABC_", "0000005"), tt.name)
	}
}
