package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

func TestAppendLoadDiscard(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := New(fs, "/var/lib/archivedrop/ledger")

	recs := []model.RenameRecord{
		{CurrentName: "XYZ_0000005", OriginalName: "F1", IsDirectory: true},
		{CurrentName: "XYZ_0000005_01.jpg", OriginalName: "a.jpg", ParentFolder: "XYZ_0000005"},
	}
	for _, r := range recs {
		require.NoError(t, l.Append("/data/coll", r))
	}
	require.NoError(t, l.Append("/data/other", model.RenameRecord{CurrentName: "x", OriginalName: "y"}))

	got, err := l.Load("/data/coll/")
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	require.NoError(t, l.Discard("/data/coll"))
	got, err = l.Load("/data/coll")
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := l.Load("/data/other")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	assert.NoError(t, l.Discard("/data/coll"))
}

func TestLoadIgnoresTornFinalLine(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := New(fs, "/ledger")
	require.NoError(t, l.Append("/c", model.RenameRecord{CurrentName: "A_0000001_01.tif", OriginalName: "scan.tif"}))

	f, err := fs.OpenFile(l.Path("/c"), os.O_WRONLY|os.O_APPEND, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString(`{"collection":"/c","record":{"currentNa`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := l.Load("/c")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "scan.tif", got[0].OriginalName)
}

func TestLoadRejectsCorruptMiddleLine(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := New(fs, "/ledger")
	require.NoError(t, fs.MkdirAll("/ledger", 0o750))
	require.NoError(t, afero.WriteFile(fs, l.Path("/c"), []byte("garbage\n{\"record\":{\"currentName\":\"a\"}}\n"), 0o640))

	_, err := l.Load("/c")
	assert.Error(t, err)
}

func TestPathIgnoresRelativeSpelling(t *testing.T) {
	l := New(afero.NewMemMapFs(), "/ledger")
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, l.Path(filepath.Join(wd, "coll")), l.Path("coll"))
	assert.Equal(t, l.Path(filepath.Join(wd, "coll")), l.Path("./coll/"))
	assert.True(t, filepath.IsAbs(Key("coll")))
}
