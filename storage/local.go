package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Local writes attachment bytes under a single media directory. Stored names
// are collision-resistant: a nanosecond timestamp prefix plus the sanitized
// original filename. Only the bare stored filename is ever handed back to
// callers.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the media directory root.
func (l *Local) Dir() string {
	return l.dir
}

// Write persists data under a fresh collision-resistant name derived from
// filename and returns the bare stored name.
func (l *Local) Write(filename string, data []byte) (string, error) {
	name := fmt.Sprintf("%d_%s", time.Now().UnixNano(), SanitizeFilename(filename))
	tmp := filepath.Join(l.dir, name+".part")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(l.dir, name)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("committing %s: %w", name, err)
	}
	return name, nil
}

// Exists reports whether a stored name is present in the media directory.
func (l *Local) Exists(name string) bool {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	_, err := os.Stat(filepath.Join(l.dir, name))
	return err == nil
}

// Open returns the absolute path of a stored name for reading.
func (l *Local) Open(name string) (string, error) {
	if !l.Exists(name) {
		return "", os.ErrNotExist
	}
	return filepath.Join(l.dir, name), nil
}

// SanitizeFilename strips path components and collapses characters unsafe in
// a stored filename.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)
	filename = unsafeNameChars.ReplaceAllString(filename, "_")
	filename = strings.Trim(filename, "._")
	if filename == "" {
		return "attachment"
	}
	return filename
}
