package sqlite

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Fingerprint returns the 128-bit murmur3 hash of data as 32 hex digits.
// Imports use it to recognise files that are already stored.
func Fingerprint(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2)
}
