package model

import (
	"fmt"
	"strings"
)

// MaxInventoryNumber is the largest number representable in seven digits.
const MaxInventoryNumber = 9_999_999

// ValidatePrefix reports whether prefix is a usable CollectionPrefix: a
// short, non-empty run of ASCII letters and digits.
func ValidatePrefix(prefix string) error {
	if prefix == "" || len(prefix) > 16 {
		return fmt.Errorf("collection prefix %q: must be 1-16 characters", prefix)
	}
	for _, r := range prefix {
		if !isASCIIAlnum(r) {
			return fmt.Errorf("collection prefix %q: must be alphanumeric", prefix)
		}
	}
	return nil
}

// FolderCode formats the inventory code of a folder: PREFIX_0000042.
func FolderCode(prefix string, number int) string {
	return fmt.Sprintf("%s_%07d", prefix, number)
}

// FileCode formats the inventory code of a file inside a sequenced group:
// PREFIX_0000042_03. Sequences are 1-based.
func FileCode(prefix string, number, sequence int) string {
	return fmt.Sprintf("%s_%07d_%02d", prefix, number, sequence)
}

// IsMultiPageGroup applies the document grouping heuristic: a folder whose
// name's second "_"-separated token is purely numeric, and which is not the
// collection root itself, holds the pages of one document.
//
// The heuristic matches any PREFIX_<digits> folder. It is kept as is for
// compatibility with existing collections.
func IsMultiPageGroup(folderName string, isCollectionRoot bool) bool {
	if isCollectionRoot {
		return false
	}
	parts := strings.Split(folderName, "_")
	if len(parts) < 2 {
		return false
	}
	return IsDigits(parts[1])
}

// SecondToken returns the second "_"-separated token of name, or "".
func SecondToken(name string) string {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isASCIIAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
