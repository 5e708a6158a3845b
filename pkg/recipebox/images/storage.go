// Package images stores uploaded recipe images on the local filesystem and
// derives BlurHash placeholders for them.
package images

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecipeDir is where recipe images live, relative to the media root.
const RecipeDir = "uploads/recipe"

var ErrInvalidPath = errors.New("invalid media path")

// Storage manages image files below a media root.
// Safe for concurrent use.
type Storage struct {
	root string
	mu   sync.RWMutex
}

// File describes a stored image.
type File struct {
	Path    string // relative to the media root, slash separated
	ModTime time.Time
}

// NewStorage creates the recipe image directory below root if needed.
func NewStorage(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("media root cannot be empty")
	}
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(RecipeDir)), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &Storage{root: root}, nil
}

// Root returns the media root directory.
func (s *Storage) Root() string {
	return s.root
}

// Save writes data under a fresh unique name with extension ext and returns
// its relative path, e.g. uploads/recipe/<uuid>.jpg.
func (s *Storage) Save(data []byte, ext string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image data cannot be empty")
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return "", fmt.Errorf("extension cannot be empty")
	}

	rel := path.Join(RecipeDir, uuid.NewString()+"."+ext)

	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.Path(rel)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return rel, nil
}

// Delete removes the file at rel. A missing file is not an error.
func (s *Storage) Delete(rel string) error {
	if rel == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete image file: %w", err)
	}
	return nil
}

// Exists reports whether a file is stored at rel.
func (s *Storage) Exists(rel string) bool {
	full, err := s.Path(rel)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(full)
	return err == nil
}

// Path maps rel onto the filesystem, refusing paths that escape the media root.
func (s *Storage) Path(rel string) (string, error) {
	clean := path.Clean("/" + rel)[1:]
	if clean == "" || clean != rel {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// List returns every file in the recipe image directory.
func (s *Storage) List() ([]File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(RecipeDir)))
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Path: path.Join(RecipeDir, e.Name()), ModTime: info.ModTime()})
	}
	return files, nil
}
