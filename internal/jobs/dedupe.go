package jobs

import (
	"path/filepath"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

// Deduplicate collapses the pages of each multi-page document folder into
// one representative item so the folder is OCR'd and merged once. The
// representative takes the folder's code and GroupPath; single-page items
// pass through unchanged. Input order is kept.
//
// A folder is a group when its name looks like "PREFIX_<digits>" and it is
// not the collection root itself.
func Deduplicate(items []model.ProcessingItem, collectionRoot string) []model.ProcessingItem {
	root := filepath.Clean(collectionRoot)
	seen := make(map[string]bool)
	out := make([]model.ProcessingItem, 0, len(items))
	for _, it := range items {
		dir := filepath.Dir(it.SourcePath)
		name := filepath.Base(dir)
		if !model.IsMultiPageGroup(name, dir == root) {
			out = append(out, it)
			continue
		}
		if seen[dir] {
			continue
		}
		seen[dir] = true
		rep := it.Clone()
		rep.Code = name
		rep.Folder = name
		rep.GroupPath = dir
		out = append(out, rep)
	}
	return out
}
