package fetch

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alvmarrod/pdf-harvest/internal/model"
)

const (
	fallbackName = "download.pdf"
	maxNameBytes = 200
	maxSuffix    = 10000
)

// FileName derives the local file name for rawURL from the last path segment.
// The segment is percent-decoded for display and stripped of separators and
// control characters. Queries and fragments never contribute to the name.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallbackName
	}

	escaped := u.EscapedPath()
	segment := escaped[strings.LastIndex(escaped, "/")+1:]
	if segment == "" {
		return fallbackName
	}

	decoded, err := url.PathUnescape(segment)
	if err != nil {
		decoded = segment
	}

	name := sanitizeName(decoded)
	if name == "" || name == "." || name == ".." {
		return fallbackName
	}
	return name
}

func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20 || r == 0x7f:
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if len(name) > maxNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		stem := strings.ToValidUTF8(name[:maxNameBytes-len(ext)], "")
		name = stem + ext
	}
	return name
}

// partSuffix marks the staging file a download is written to before it is
// renamed into place
const partSuffix = ".part"

// partPath returns the staging path used while downloading to path
func partPath(path string) string {
	return path + partSuffix
}

// NameReserver hands out collision-free destination paths shared by all
// workers of a session, so two workers never write the same file.
//
// Without overwrite a name is claimed by creating an empty placeholder
// exclusively. With overwrite a file left by an earlier run keeps its
// content until the finished download is renamed over it.
type NameReserver struct {
	mu        sync.Mutex
	reserved  map[string]bool
	overwrite bool
}

// NewNameReserver creates a reserver. With overwrite set, files left by an
// earlier run are replaced instead of disambiguated.
func NewNameReserver(overwrite bool) *NameReserver {
	return &NameReserver{
		reserved:  make(map[string]bool),
		overwrite: overwrite,
	}
}

// Reserve claims path, or the first free "name (n).ext" variant, and
// returns the chosen path
func (r *NameReserver) Reserve(path string) (string, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create directory %s: %v", model.ErrFilesystem, dir, err)
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < maxSuffix; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		full := filepath.Join(dir, candidate)

		if r.reserved[full] {
			continue
		}

		if !r.overwrite {
			f, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			if err != nil {
				return "", fmt.Errorf("%w: create %s: %v", model.ErrFilesystem, full, err)
			}
			f.Close()
		}

		r.reserved[full] = true
		return full, nil
	}

	return "", fmt.Errorf("%w: no free name for %s after %d candidates", model.ErrFilesystem, path, maxSuffix)
}

// Abandon gives up a reservation after a failed download. The placeholder
// is removed; with overwrite, a file from an earlier run is left untouched.
func (r *NameReserver) Abandon(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.reserved[path] {
		return nil
	}
	delete(r.reserved, path)

	if r.overwrite {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", model.ErrFilesystem, path, err)
	}
	return nil
}
