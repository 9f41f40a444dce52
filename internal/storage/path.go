// Package storage holds the object naming shared by the archive backends
// in its subpackages.
package storage

import (
	"path"
	"strings"
	"time"
)

const maxNameLen = 120

// RawPath returns the object path for the raw detail markup of a listing
// captured at t: raw/<YYYY-MM-DD>/<name>.html.
func RawPath(t time.Time, name string) string {
	return path.Join("raw", t.UTC().Format("2006-01-02"), SanitizeName(name)+".html")
}

// SanitizeName reduces name to characters safe in file and object names.
func SanitizeName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		if b.Len() >= maxNameLen {
			break
		}
	}
	out := strings.Trim(b.String(), "_.")
	if out == "" {
		return "listing"
	}
	return out
}
