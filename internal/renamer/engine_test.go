package renamer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/ArchiveDrop/internal/ledger"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

// buildTree creates files (and directories for keys ending in "/") under a
// fresh temporary directory.
func buildTree(t *testing.T, tree map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range tree {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			require.NoError(t, os.MkdirAll(p, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

// snapshot maps every entry below root to its content; directories map to
// "/".
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if p == root {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			out[rel+"/"] = "/"
			return nil
		}
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithDirRetry(3, time.Millisecond)}, opts...)
	return New(afero.NewOsFs(), opts...)
}

func codes(items []model.ProcessingItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Code
	}
	return out
}

func TestRenameEndToEndExample(t *testing.T) {
	root := buildTree(t, map[string]string{
		"F1/a.jpg": "a",
		"F1/b.jpg": "b",
		"c.jpg":    "c",
	})
	e := newEngine(t)

	res, err := e.Rename(context.Background(), root, "XYZ", 5)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, []string{"XYZ_0000005_01", "XYZ_0000005_02", "XYZ_0000006_01"}, codes(res.Items))
	assert.Equal(t, 7, res.NextNumber)
	assert.Equal(t, "XYZ_0000006", res.LastCode)
	assert.Equal(t, map[string]string{
		"XYZ_0000005/":                   "/",
		"XYZ_0000005/XYZ_0000005_01.jpg": "a",
		"XYZ_0000005/XYZ_0000005_02.jpg": "b",
		"XYZ_0000006_01.jpg":             "c",
	}, snapshot(t, root))

	assert.Equal(t, "XYZ_0000005", res.Items[0].Folder)
	assert.Equal(t, filepath.Join(root, "XYZ_0000005", "XYZ_0000005_02.jpg"), res.Items[1].SourcePath)
	assert.Empty(t, res.Items[2].Folder)

	require.Len(t, res.Records, 4)
	assert.Equal(t, model.RenameRecord{CurrentName: "XYZ_0000005", OriginalName: "F1", IsDirectory: true}, res.Records[0])
	assert.Equal(t, model.RenameRecord{CurrentName: "XYZ_0000006_01.jpg", OriginalName: "c.jpg"}, res.Records[3])
}

func TestRenameNaturalOrderAndUniqueNumbers(t *testing.T) {
	root := buildTree(t, map[string]string{
		"10.tif":        "ten",
		"2.tif":         "two",
		"1.tif":         "one",
		"Box 10/p2.tif": "b10p2",
		"Box 10/p1.tif": "b10p1",
		"box 9/p10.tif": "b9p10",
		"box 9/p9.tif":  "b9p9",
	})
	e := newEngine(t)

	res, err := e.Rename(context.Background(), root, "ABC", 1)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, []string{
		"ABC_0000001_01", "ABC_0000001_02", // box 9: p9, p10
		"ABC_0000002_01", "ABC_0000002_02", // Box 10: p1, p2
		"ABC_0000003_01", "ABC_0000004_01", "ABC_0000005_01", // 1, 2, 10
	}, codes(res.Items))

	snap := snapshot(t, root)
	assert.Equal(t, "b9p9", snap["ABC_0000001/ABC_0000001_01.tif"])
	assert.Equal(t, "b9p10", snap["ABC_0000001/ABC_0000001_02.tif"])
	assert.Equal(t, "one", snap["ABC_0000003_01.tif"])
	assert.Equal(t, "two", snap["ABC_0000004_01.tif"])
	assert.Equal(t, "ten", snap["ABC_0000005_01.tif"])

	// Numbers are zero padded, so string order is numeric order.
	last := ""
	for _, rec := range res.Records {
		if rec.ParentFolder != "" {
			continue
		}
		number := model.SecondToken(strings.TrimSuffix(rec.CurrentName, filepath.Ext(rec.CurrentName)))
		assert.Greater(t, number, last, "numbers strictly increase in traversal order")
		last = number
	}
}

func TestRollbackRestoresTree(t *testing.T) {
	tests := []struct {
		name string
		tree map[string]string
	}{
		{"flat", map[string]string{
			"a.jpg": "a", "b.jpg": "b", "notes.csv": "filename,title\na.jpg,A\n",
		}},
		{"nested", map[string]string{
			"Folder One/page1.jpg": "1",
			"Folder One/page2.jpg": "2",
			"Folder One/meta.csv":  "filename,date\npage1.jpg,1950\n",
			"Folder One/sub/x.jpg": "x",
			"empty/":               "",
			"loose.mp4":            "movie",
			".hidden":              "h",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := buildTree(t, tt.tree)
			before := snapshot(t, root)
			e := newEngine(t)

			res, err := e.Rename(context.Background(), root, "ABC", 100)
			require.NoError(t, err)
			require.NoError(t, res.Err)
			assert.NotEqual(t, before, snapshot(t, root))

			report, err := e.Rollback(context.Background(), root)
			require.NoError(t, err)
			assert.Empty(t, report.Kept)
			assert.Equal(t, before, snapshot(t, root))
		})
	}
}

func TestRollbackTwiceIsNoop(t *testing.T) {
	root := buildTree(t, map[string]string{"F/a.jpg": "a", "b.jpg": "b"})
	e := newEngine(t)
	_, err := e.Rename(context.Background(), root, "ABC", 1)
	require.NoError(t, err)

	_, err = e.Rollback(context.Background(), root)
	require.NoError(t, err)
	restored := snapshot(t, root)

	report, err := e.Rollback(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, &RollbackReport{}, report)
	assert.Equal(t, restored, snapshot(t, root))

	report, err = e.Rollback(context.Background(), filepath.Join(root, "never-renamed"))
	require.NoError(t, err)
	assert.Zero(t, report.FilesRestored)
}

func TestRollbackSkipsConsumedFilesAndKeepsNonEmptyFolders(t *testing.T) {
	root := buildTree(t, map[string]string{"F/a.jpg": "a", "F/b.jpg": "b", "c.jpg": "c"})
	e := newEngine(t)
	_, err := e.Rename(context.Background(), root, "ABC", 1)
	require.NoError(t, err)

	// A processed file moved away, and a stray file dropped into the folder.
	require.NoError(t, os.Remove(filepath.Join(root, "ABC_0000001", "ABC_0000001_02.jpg")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ABC_0000001", "stray.txt"), []byte("s"), 0o644))

	report, err := e.Rollback(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, []string{filepath.Join(root, "ABC_0000001")}, report.Kept)

	snap := snapshot(t, root)
	assert.Equal(t, "a", snap["F/a.jpg"])
	assert.Equal(t, "c", snap["c.jpg"])
	assert.Equal(t, "s", snap["ABC_0000001/stray.txt"])
}

func TestRenameCollisionReleasesNumber(t *testing.T) {
	root := buildTree(t, map[string]string{
		"b.jpg":              "b",
		"XYZ_0000001_01.jpg": "already",
	})
	e := newEngine(t)

	res, err := e.Rename(context.Background(), root, "XYZ", 1)
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTargetExists)
	assert.Contains(t, res.Err.Error(), "b.jpg")

	// b.jpg gave its number back; the pre-named file took it.
	assert.Equal(t, []string{"XYZ_0000001_01"}, codes(res.Items))
	assert.Equal(t, 2, res.NextNumber)
	snap := snapshot(t, root)
	assert.Equal(t, "b", snap["b.jpg"])
	assert.Equal(t, "already", snap["XYZ_0000001_01.jpg"])
}

func TestRenameUnreadableCollection(t *testing.T) {
	e := newEngine(t)
	_, err := e.Rename(context.Background(), filepath.Join(t.TempDir(), "missing"), "ABC", 1)
	assert.ErrorIs(t, err, ErrUnreadable)

	_, err = e.Rename(context.Background(), t.TempDir(), "A B", 1)
	assert.Error(t, err)
	_, err = e.Rename(context.Background(), t.TempDir(), "ABC", 0)
	assert.Error(t, err)
}

func TestRenameCSVEnrichment(t *testing.T) {
	root := buildTree(t, map[string]string{
		"collection.csv": "Filename,Title,Year\nc.jpg,Harbour,1931\nF1,Album,1940\n",
		"F1/a.jpg":       "a",
		"F1/b.jpg":       "b",
		"F1/pages.csv":   "file,caption\na,First page\n",
		"c.jpg":          "c",
		"unrelated.jpg":  "u",
	})
	e := newEngine(t)

	res, err := e.Rename(context.Background(), root, "ABC", 1)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	require.Len(t, res.Metadata, 2)
	require.Len(t, res.FolderMetadata["ABC_0000001"], 1)

	byCode := make(map[string]model.ProcessingItem)
	for _, it := range res.Items {
		byCode[it.Code] = it
	}
	assert.Equal(t, "First page", byCode["ABC_0000001_01"].Fields["caption"])
	assert.Equal(t, "Album", byCode["ABC_0000001_01"].Fields["title"])
	assert.Equal(t, "Album", byCode["ABC_0000001_02"].Fields["title"])
	assert.Empty(t, byCode["ABC_0000001_02"].Fields["caption"])
	assert.Equal(t, "Harbour", byCode["ABC_0000002_01"].Fields["title"])
	assert.Nil(t, byCode["ABC_0000003_01"].Fields)

	snap := snapshot(t, root)
	assert.Contains(t, snap, "collection.csv", "top-level CSV is left in place")
	assert.Contains(t, snap, "ABC_0000001/pages.csv", "folder CSV keeps its name")
}

// flakyFs fails directory renames with EBUSY a fixed number of times.
type flakyFs struct {
	afero.Fs
	failures atomic.Int32
}

func (f *flakyFs) Rename(oldname, newname string) error {
	if info, err := f.Fs.Stat(oldname); err == nil && info.IsDir() && f.failures.Add(-1) >= 0 {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: syscall.EBUSY}
	}
	return f.Fs.Rename(oldname, newname)
}

func TestRenameRetriesBusyDirectory(t *testing.T) {
	root := buildTree(t, map[string]string{"F1/a.jpg": "a", "F2/b.jpg": "b"})
	ffs := &flakyFs{Fs: afero.NewOsFs()}
	ffs.failures.Store(2)
	e := New(ffs, WithLogger(zaptest.NewLogger(t)), WithDirRetry(3, time.Millisecond))

	res, err := e.Rename(context.Background(), root, "ABC", 1)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"ABC_0000001_01", "ABC_0000002_01"}, codes(res.Items))
}

func TestRenameRetriesBusyDirectoryThreeTimesByDefault(t *testing.T) {
	root := buildTree(t, map[string]string{"F1/a.jpg": "a"})
	ffs := &flakyFs{Fs: afero.NewOsFs()}
	ffs.failures.Store(3)
	e := New(ffs, WithLogger(zaptest.NewLogger(t)), WithDirRetry(0, time.Millisecond))

	res, err := e.Rename(context.Background(), root, "ABC", 1)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"ABC_0000001_01"}, codes(res.Items))
	assert.Equal(t, int32(-1), ffs.failures.Load())
}

func TestRenameBusyDirectoryGivesUpAndContinues(t *testing.T) {
	root := buildTree(t, map[string]string{"F1/a.jpg": "a", "F2/b.jpg": "b", "c.jpg": "c"})
	ffs := &flakyFs{Fs: afero.NewOsFs()}
	ffs.failures.Store(3)
	e := New(ffs, WithLogger(zaptest.NewLogger(t)), WithDirRetry(3, time.Millisecond))

	res, err := e.Rename(context.Background(), root, "ABC", 1)
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "F1")

	// F1 failed and released number 1 to F2.
	assert.Equal(t, []string{"ABC_0000001_01", "ABC_0000002_01"}, codes(res.Items))
	snap := snapshot(t, root)
	assert.Equal(t, "a", snap["F1/a.jpg"])
	assert.Equal(t, "b", snap["ABC_0000001/ABC_0000001_01.jpg"])
}

func TestRollbackFromLedgerAfterRestart(t *testing.T) {
	root := buildTree(t, map[string]string{"F1/a.jpg": "a", "F1/b.jpg": "b", "c.jpg": "c", "empty/": ""})
	before := snapshot(t, root)
	l := ledger.New(afero.NewOsFs(), filepath.Join(t.TempDir(), "ledger"))

	first := newEngine(t, WithLedger(l))
	res, err := first.Rename(context.Background(), root, "XYZ", 5)
	require.NoError(t, err)

	persisted, err := l.Load(root)
	require.NoError(t, err)
	assert.Equal(t, res.Records, persisted)

	restarted := newEngine(t, WithLedger(l))
	report, err := restarted.Rollback(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, report.FilesRestored)
	assert.Equal(t, before, snapshot(t, root))

	persisted, err = l.Load(root)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestRollbackAbsolutePathAfterRelativeRename(t *testing.T) {
	base := buildTree(t, map[string]string{"coll/F1/a.jpg": "a", "coll/c.jpg": "c"})
	root := filepath.Join(base, "coll")
	before := snapshot(t, root)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(base))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	l := ledger.New(afero.NewOsFs(), filepath.Join(base, "ledger"))

	_, err = newEngine(t, WithLedger(l)).Rename(context.Background(), "coll", "XYZ", 5)
	require.NoError(t, err)
	require.NotEqual(t, before, snapshot(t, root))

	report, err := newEngine(t, WithLedger(l)).Rollback(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesRestored)
	assert.Equal(t, before, snapshot(t, root))
}

func TestCommitMakesRollbackNoop(t *testing.T) {
	root := buildTree(t, map[string]string{"a.jpg": "a"})
	l := ledger.New(afero.NewOsFs(), filepath.Join(t.TempDir(), "ledger"))
	e := newEngine(t, WithLedger(l))
	_, err := e.Rename(context.Background(), root, "ABC", 1)
	require.NoError(t, err)

	require.NoError(t, e.Commit(root))
	_, err = e.Rollback(context.Background(), root)
	require.NoError(t, err)
	assert.Contains(t, snapshot(t, root), "ABC_0000001_01.jpg")
}

func TestSortNames(t *testing.T) {
	names := []string{"page10.jpg", "Page2.jpg", "page1.jpg", "b", "A"}
	sortNames(names)
	assert.Equal(t, []string{"A", "b", "page1.jpg", "Page2.jpg", "page10.jpg"}, names)

	plain := []string{"10", "9", "1"}
	sortNames(plain)
	assert.Equal(t, []string{"1", "9", "10"}, plain)
}
