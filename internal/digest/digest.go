// Package digest computes the content hashes used to build object storage
// keys for processed media.
package digest

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// File streams the file at path through xxh3-128 and returns the hex digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	return Reader(f)
}

// Reader hashes everything readable from r.
func Reader(r io.Reader) (string, error) {
	h := xxh3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return format(h.Sum128()), nil
}

// String hashes s.
func String(s string) string {
	return format(xxh3.HashString128(s))
}

func format(u xxh3.Uint128) string {
	return fmt.Sprintf("%016x%016x", u.Hi, u.Lo)
}
