package publishing

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store copies digest audio into the public directory and derives the URL
// listeners fetch it from.
type Store struct {
	dir     string
	baseURL string
}

// NewStore creates a new artifact store
func NewStore(dir, baseURL string) *Store {
	return &Store{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Publish copies the file into the public directory and returns its external
// URL. Publishing the same file again overwrites in place, so a re-run after
// a partial failure converges.
func (s *Store) Publish(srcPath string) (string, int64, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", 0, fmt.Errorf("creating publish directory: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", 0, fmt.Errorf("opening audio artifact: %w", err)
	}
	defer src.Close()

	fileName := filepath.Base(srcPath)
	destPath := filepath.Join(s.dir, fileName)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", 0, fmt.Errorf("creating published file: %w", err)
	}

	size, err := io.Copy(dest, src)
	if closeErr := dest.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		return "", 0, fmt.Errorf("copying audio artifact: %w", err)
	}

	return s.URLFor(fileName), size, nil
}

// URLFor returns the external URL for a published file name
func (s *Store) URLFor(fileName string) string {
	return s.baseURL + "/audio/" + fileName
}
