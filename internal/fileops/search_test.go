package fileops

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemserve/internal/config"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
}

func newTestSearcher(t *testing.T, priority, drives []string) *Searcher {
	t.Helper()
	s := NewSearcher(config.FilesConfig{
		MaxDepth:       2,
		MatchThreshold: 5,
		SkipFolders:    []string{"node_modules"},
	})
	s.priority = func() []string { return priority }
	s.drives = func() []string { return drives }
	return s
}

func TestFindPrunesAndLimitsDepth(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"report.txt",
		"docs/report.md",
		"a/b/report.csv",
		"a/b/c/report.deep",
		"node_modules/report.js",
		".git/report.pack",
		"$Recycle.Bin/report.old",
		"docs/summary.md",
	)
	s := newTestSearcher(t, nil, []string{root})

	got, err := s.Find(context.Background(), "report", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "report.txt"),
		filepath.Join(root, "docs", "report.md"),
		filepath.Join(root, "a", "b", "report.csv"),
	}, got)
}

func TestFindSkipsSystemRoots(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "proc/1/status.log", "home/status.txt", "home/proc/status.md")
	s := newTestSearcher(t, nil, []string{root})
	s.maxDepth = 5
	s.skipPaths = []string{filepath.Join(root, "proc")}

	got, err := s.Find(context.Background(), "status", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "home", "status.txt"),
		filepath.Join(root, "home", "proc", "status.md"),
	}, got)
}

func TestNewSearcherSkipsPseudoFilesystems(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("drive letters have no pseudo filesystems")
	}
	s := NewSearcher(config.Default().Files)
	assert.Subset(t, s.skipPaths, []string{"/proc", "/sys", "/dev"})
}

func TestFindPriorityFirstWithoutDuplicates(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "home/Desktop/plan.txt", "work/plan.md")
	desktop := filepath.Join(root, "home", "Desktop")
	s := newTestSearcher(t, []string{desktop, filepath.Join(root, "missing")}, []string{root})
	s.maxDepth = 5

	got, err := s.Find(context.Background(), "plan", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(desktop, "plan.txt"),
		filepath.Join(root, "work", "plan.md"),
	}, got)
}

func TestFindStopsAtThreshold(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "todo.txt", "todo.md")
	s := newTestSearcher(t, []string{root}, nil)
	s.threshold = 2
	s.drives = func() []string {
		t.Fatal("drives should not be searched")
		return nil
	}

	got, err := s.Find(context.Background(), "todo", "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFindSpecificDrive(t *testing.T) {
	priority := t.TempDir()
	drive := t.TempDir()
	writeTree(t, priority, "budget.xlsx")
	writeTree(t, drive, "budget.csv")
	s := newTestSearcher(t, []string{priority}, nil)

	got, err := s.Find(context.Background(), "budget", drive)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(drive, "budget.csv")}, got)

	got, err = s.Find(context.Background(), "budget", filepath.Join(drive, "nope"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindCanceled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a/report.txt")
	s := newTestSearcher(t, []string{root}, []string{root})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Find(ctx, "report", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDepth(t *testing.T) {
	s := &Searcher{}
	root := filepath.FromSlash("/data")
	assert.Equal(t, 1, s.depth(root, filepath.FromSlash("/data/a")))
	assert.Equal(t, 3, s.depth(root, filepath.FromSlash("/data/a/b/c")))
}
