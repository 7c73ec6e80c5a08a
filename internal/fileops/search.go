package fileops

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"gemserve/internal/config"
)

// Searcher walks the filesystem for files matching a partial name: priority folders first,
// then every drive root when the priority pass found too little.
type Searcher struct {
	maxDepth  int
	threshold int
	skip      map[string]struct{}
	skipPaths []string

	priority func() []string
	drives   func() []string
}

func NewSearcher(cfg config.FilesConfig) *Searcher {
	skip := make(map[string]struct{}, len(cfg.SkipFolders))
	for _, name := range cfg.SkipFolders {
		skip[name] = struct{}{}
	}
	return &Searcher{
		maxDepth:  cfg.MaxDepth,
		threshold: cfg.MatchThreshold,
		skip:      skip,
		skipPaths: systemRoots,
		priority:  PriorityFolders,
		drives:    Drives,
	}
}

// PriorityFolders are searched before any drive: the working directory, Desktop, Documents
// and Downloads.
func PriorityFolders() []string {
	var folders []string
	if cwd, err := os.Getwd(); err == nil {
		folders = append(folders, cwd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"Desktop", "Documents", "Downloads"} {
			folders = append(folders, filepath.Join(home, name))
		}
	}
	return folders
}

// Find returns matching paths, priority folders first and without duplicates. A non-empty drive
// restricts the search to that root and skips the priority pass. The context is checked before
// every directory is read; on cancellation the matches so far are returned with ctx.Err().
func (s *Searcher) Find(ctx context.Context, query, drive string) ([]string, error) {
	var matches []string
	seen := make(map[string]struct{})
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		matches = append(matches, path)
	}

	var covered []string
	if drive == "" {
		for _, base := range s.priority() {
			if !isDir(base) {
				continue
			}
			base = filepath.Clean(base)
			if err := s.walk(ctx, base, query, covered, add); err != nil {
				return matches, err
			}
			covered = append(covered, base)
		}
	}

	if len(matches) >= s.threshold {
		log.Debug().Str("query", query).Int("matches", len(matches)).Msg("Priority folders satisfied search")
		return matches, nil
	}

	var roots []string
	if drive != "" {
		if isDir(drive) {
			roots = []string{drive}
		}
	} else {
		roots = s.drives()
	}

	found := make([][]string, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			return s.walk(gctx, root, query, covered, func(path string) {
				found[i] = append(found[i], path)
			})
		})
	}
	err := g.Wait()
	for _, paths := range found {
		for _, p := range paths {
			add(p)
		}
	}
	log.Debug().Str("query", query).Strs("roots", roots).Int("matches", len(matches)).Msg("Drive search finished")
	return matches, err
}

func (s *Searcher) walk(ctx context.Context, root, query string, covered []string, found func(string)) error {
	root = filepath.Clean(root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, as are permission errors on whole folders
			return nil
		}
		if !d.IsDir() {
			if Matches(query, d.Name()) {
				found(path)
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if s.pruned(d.Name()) || s.depth(root, path) > s.maxDepth || isCovered(path, covered) || isCovered(path, s.skipPaths) {
			return filepath.SkipDir
		}
		return nil
	})
}

func (s *Searcher) pruned(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "$") {
		return true
	}
	_, ok := s.skip[name]
	return ok
}

// depth of dir below root: a direct child is 1.
func (s *Searcher) depth(root, dir string) int {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func isCovered(path string, covered []string) bool {
	for _, c := range covered {
		if path == c {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
