package sync

import (
	"path"
	"strings"
)

// IsLegacyServedPath reports whether a stored local reference is in the old
// served-URL form (a full URL or a /media/files/ path) instead of a bare
// filename.
func IsLegacyServedPath(p string) bool {
	if p == "" {
		return false
	}
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return true
	}
	return strings.Contains(p, "/media/files/") || strings.Contains(p, "/media/")
}

// BareFilename rewrites a legacy served path to the bare filename it points
// at, dropping any query string. Already-bare values come back unchanged.
func BareFilename(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.ReplaceAll(p, "\\", "/")
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
