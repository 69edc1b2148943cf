package storage

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"transferd/internal/models"
)

// Storage is a JSON-file cache of completed downloads keyed by link.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	files    map[string]models.CachedFile
}

func New(dataDir string) *Storage {
	os.MkdirAll(dataDir, os.ModePerm)

	store := &Storage{filePath: filepath.Join(dataDir, "cache.json")}
	files, err := store.load()
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not load existing cache, starting fresh", "error", err)
		}
		files = make(map[string]models.CachedFile)
	}
	store.files = files
	return store
}

func (s *Storage) load() (map[string]models.CachedFile, error) {
	file, err := os.Open(s.filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []models.CachedFile
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, err
	}

	files := make(map[string]models.CachedFile, len(entries))
	for _, e := range entries {
		files[e.Link] = e
	}
	return files, nil
}

// save writes the cache through a temporary file. Callers hold mu.
func (s *Storage) save() error {
	data, err := json.MarshalIndent(s.listLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}

// Lookup returns the cached file for link. Entries whose file has gone
// missing or changed size are evicted and reported as misses.
func (s *Storage) Lookup(link string) (models.CachedFile, bool, error) {
	s.mu.RLock()
	entry, ok := s.files[link]
	s.mu.RUnlock()
	if !ok {
		return models.CachedFile{}, false, nil
	}

	info, err := os.Stat(entry.Path)
	if err == nil && info.Size() == entry.Size {
		return entry, true, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return models.CachedFile{}, false, fmt.Errorf("failed to stat %s: %w", entry.Path, err)
	}

	slog.Info("Evicting stale cache entry", "link", link, "path", entry.Path)
	s.Delete(link)
	return models.CachedFile{}, false, nil
}

func (s *Storage) Store(link string, file models.CachedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file.Link = link
	s.files[link] = file
	if err := s.save(); err != nil {
		slog.Error("Failed to save cache", "error", err)
		return err
	}
	return nil
}

func (s *Storage) Delete(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[link]; !ok {
		return false
	}
	delete(s.files, link)
	if err := s.save(); err != nil {
		slog.Error("Failed to save cache", "error", err)
	}
	return true
}

func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = make(map[string]models.CachedFile)
	if err := s.save(); err != nil {
		slog.Error("Failed to save cache", "error", err)
	}
}

// List returns cached files, oldest first.
func (s *Storage) List() []models.CachedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

func (s *Storage) listLocked() []models.CachedFile {
	out := make([]models.CachedFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b models.CachedFile) int {
		if c := a.CompletedAt.Compare(b.CompletedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Link, b.Link)
	})
	return out
}
