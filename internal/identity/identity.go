// Package identity derives content-addressed listing identities.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Compute returns the hex SHA-256 digest of title, datePosted and company
// concatenated in that order with no separator.
func Compute(title, datePosted, company string) string {
	h := sha256.New()
	// hash.Hash writes never fail.
	_, _ = io.WriteString(h, title)
	_, _ = io.WriteString(h, datePosted)
	_, _ = io.WriteString(h, company)
	return hex.EncodeToString(h.Sum(nil))
}
