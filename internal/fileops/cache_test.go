package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		paths = append(paths, p)
	}
	return paths
}

func TestCacheKeepsMostRecent(t *testing.T) {
	c := NewCache(t.TempDir(), 15)
	for i := 1; i <= 16; i++ {
		require.NoError(t, c.Touch(1, fmt.Sprintf("/files/f%02d.txt", i)))
	}

	entries := c.Entries(1)
	require.Len(t, entries, 15)
	assert.Equal(t, "/files/f16.txt", entries[0])
	assert.Equal(t, "/files/f02.txt", entries[14])
	assert.NotContains(t, entries, "/files/f01.txt")
}

func TestCacheTouchMovesToFront(t *testing.T) {
	c := NewCache(t.TempDir(), 15)
	require.NoError(t, c.Touch(1, "/a"))
	require.NoError(t, c.Touch(1, "/b"))
	require.NoError(t, c.Touch(1, "/a"))

	assert.Equal(t, []string{"/a", "/b"}, c.Entries(1))
}

func TestCacheSessionsAreSeparate(t *testing.T) {
	c := NewCache(t.TempDir(), 15)
	require.NoError(t, c.Touch(1, "/a"))
	require.NoError(t, c.Touch(2, "/b"))

	assert.Equal(t, []string{"/a"}, c.Entries(1))
	assert.Equal(t, []string{"/b"}, c.Entries(2))
}

func TestCacheRemoveAndClear(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 15)
	require.NoError(t, c.Touch(1, "/a"))
	require.NoError(t, c.Touch(1, "/b"))

	require.NoError(t, c.Remove(1, "/a"))
	require.NoError(t, c.Remove(1, "/missing"))
	assert.Equal(t, []string{"/b"}, c.Entries(1))

	require.NoError(t, c.Clear(1))
	assert.Empty(t, c.Entries(1))
	assert.NoFileExists(t, filepath.Join(dir, "user_1_files.json"))
	require.NoError(t, c.Clear(1))
}

func TestCacheSearchSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	paths := touchFiles(t, dir, "README.md", "readme.txt", "notes.txt")
	c := NewCache(filepath.Join(dir, "cache"), 15)
	for _, p := range paths {
		require.NoError(t, c.Touch(1, p))
	}
	require.NoError(t, c.Touch(1, filepath.Join(dir, "readme-gone.md")))

	hits := c.Search(1, "readme")
	assert.Equal(t, []string{paths[1], paths[0]}, hits)
}

func TestCacheCorruptFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_1_files.json"), []byte("{not json"), 0o644))
	c := NewCache(dir, 15)

	assert.Empty(t, c.Entries(1))
	require.NoError(t, c.Touch(1, "/a"))
	assert.Equal(t, []string{"/a"}, c.Entries(1))
}

func TestCacheConcurrentTouches(t *testing.T) {
	c := NewCache(t.TempDir(), 50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Touch(1, fmt.Sprintf("/f%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.Entries(1), 20)
}
