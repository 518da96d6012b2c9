package renamer

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// sortNames orders names the way a file browser does: case-insensitive and
// numeric-aware, so "page2" sorts before "page10". Ties keep their
// directory-listing order.
func sortNames(names []string) {
	// Collators keep internal buffers and are not safe for concurrent use.
	c := collate.New(language.Und, collate.Numeric, collate.IgnoreCase)
	sort.SliceStable(names, func(i, j int) bool {
		return c.CompareString(names[i], names[j]) < 0
	})
}
