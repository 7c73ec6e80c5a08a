package fileops

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// cacheFile is the on-disk layout. Files are stored oldest first.
type cacheFile struct {
	Files       []string   `json:"files"`
	LastUpdated *time.Time `json:"last_updated"`
}

// Cache is the per-session list of recently opened or created files, capped at limit.
// Read-modify-write cycles for one session are serialised.
type Cache struct {
	dir   string
	limit int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewCache(dir string, limit int) *Cache {
	return &Cache{dir: dir, limit: limit, locks: make(map[int64]*sync.Mutex)}
}

func (c *Cache) path(sessionID int64) string {
	return filepath.Join(c.dir, fmt.Sprintf("user_%d_files.json", sessionID))
}

func (c *Cache) lock(sessionID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	return l
}

// Entries returns the cached paths, most recent first.
func (c *Cache) Entries(sessionID int64) []string {
	l := c.lock(sessionID)
	l.Lock()
	defer l.Unlock()
	files := c.load(sessionID)
	slices.Reverse(files)
	return files
}

// Touch moves path to the front, evicting the oldest entry past the limit.
func (c *Cache) Touch(sessionID int64, path string) error {
	l := c.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	files := slices.DeleteFunc(c.load(sessionID), func(f string) bool { return f == path })
	files = append(files, path)
	return c.save(sessionID, files)
}

// Remove drops path from the cache; a path that is not cached is ignored.
func (c *Cache) Remove(sessionID int64, path string) error {
	l := c.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	files := c.load(sessionID)
	kept := slices.DeleteFunc(slices.Clone(files), func(f string) bool { return f == path })
	if len(kept) == len(files) {
		return nil
	}
	return c.save(sessionID, kept)
}

// Search returns the cached files that still exist and match query, most recent first.
func (c *Cache) Search(sessionID int64, query string) []string {
	var matches []string
	for _, path := range c.Entries(sessionID) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if Matches(query, filepath.Base(path)) {
			matches = append(matches, path)
		}
	}
	return matches
}

// Clear deletes the session's cache file.
func (c *Cache) Clear(sessionID int64) error {
	l := c.lock(sessionID)
	l.Lock()
	defer l.Unlock()
	if err := os.Remove(c.path(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (c *Cache) load(sessionID int64) []string {
	data, err := os.ReadFile(c.path(sessionID))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("Error loading file cache")
		}
		return nil
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		log.Warn().Err(err).Int64("session_id", sessionID).Msg("Error parsing file cache")
		return nil
	}
	return cf.Files
}

func (c *Cache) save(sessionID int64, files []string) error {
	if len(files) > c.limit {
		files = files[len(files)-c.limit:]
	}
	now := time.Now()
	data, err := json.MarshalIndent(cacheFile{Files: files, LastUpdated: &now}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache folder: %w", err)
	}
	if err := os.WriteFile(c.path(sessionID), data, 0o644); err != nil {
		return fmt.Errorf("failed to save file cache: %w", err)
	}
	return nil
}
