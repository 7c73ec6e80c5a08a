package fileops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"gemserve/internal/config"
)

const usage = "📋 Usage:\n  • open <filename>\n  • delete <filename>\n  • new <filename>"

// Resolver turns file-mode input into file operations. At most one action per session waits
// for a reply; while one is pending every input goes to it.
type Resolver struct {
	cache   *Cache
	search  *Searcher
	pending *PendingStore
	opener  Opener
	limit   int

	desktop func() string
	drives  func() []string
}

func NewResolver(cfg config.FilesConfig, opener Opener) *Resolver {
	if opener == nil {
		opener = SystemOpener{}
	}
	return &Resolver{
		cache:   NewCache(cfg.CacheDir, cfg.CacheLimit),
		search:  NewSearcher(cfg),
		pending: NewPendingStore(cfg.PendingTTL),
		opener:  opener,
		limit:   cfg.CacheLimit,
		desktop: DesktopDir,
		drives:  Drives,
	}
}

// State reports the session's pending action, "none" when idle.
func (r *Resolver) State(sessionID int64) string {
	return r.pending.State(sessionID)
}

// Forget drops the session's pending action and recency cache.
func (r *Resolver) Forget(sessionID int64) {
	r.pending.Clear(sessionID)
	if err := r.cache.Clear(sessionID); err != nil {
		log.Warn().Err(err).Int64("session_id", sessionID).Msg("Error clearing file cache")
	}
}

// Recent returns the session's cached files, most recent first.
func (r *Resolver) Recent(sessionID int64) []string {
	return r.cache.Entries(sessionID)
}

// Intro lists the drives and the commands file mode understands.
func (r *Resolver) Intro() Reply {
	drives := r.drives()
	drivesText := "  No drives found"
	if len(drives) > 0 {
		lines := make([]string, 0, len(drives))
		for _, d := range drives {
			lines = append(lines, "  • "+d)
		}
		drivesText = strings.Join(lines, "\n")
	}
	return infof("📁 File Operation Mode Activated\n\n"+
		"🖥️ Available Drives:\n%s\n\n"+
		"📋 Available Commands:\n"+
		"  • open <filename>   - Search and open file\n"+
		"  • delete <filename> - Search and delete file\n"+
		"  • new <filename>    - Create file (choose Desktop or custom path)\n\n"+
		"💡 Tips:\n"+
		"  • Use partial names: 'README' finds 'README.md', 'README.txt'\n"+
		"  • The %d most recently used files are cached for faster access\n"+
		"  • From the cache menu you can still search all drives or one drive",
		drivesText, r.limit)
}

// Handle processes one line of input for the session.
func (r *Resolver) Handle(ctx context.Context, sessionID int64, text string) Reply {
	text = strings.TrimSpace(text)
	logger := log.With().Int64("session_id", sessionID).Logger()

	action, ok := r.pending.Get(sessionID)
	if !ok {
		reply := r.command(ctx, sessionID, text)
		logger.Debug().Str("input", text).Str("state", r.State(sessionID)).Str("reply", reply.Kind.String()).Msg("File command handled")
		return reply
	}

	if isCancel(text) {
		r.pending.Clear(sessionID)
		logger.Debug().Str("from", action.State()).Msg("File action cancelled")
		return infof("🚫 Operation cancelled")
	}

	var reply Reply
	switch action.Kind {
	case CacheLimit:
		reply = r.onCacheChoice(ctx, sessionID, action, text)
	case SelectFile:
		reply = r.onSelection(sessionID, action, text)
	case DeleteConfirm:
		reply = r.onDeleteConfirm(sessionID, action, text)
	case Overwrite:
		reply = r.onOverwrite(sessionID, action, text)
	case CreateLocation:
		reply = r.onCreateLocation(sessionID, action, text)
	case CustomPath:
		reply = r.onCustomPath(sessionID, action, text)
	default:
		r.pending.Clear(sessionID)
		reply = errorf("Unknown pending action, please start again")
	}
	logger.Debug().Str("from", action.State()).Str("to", r.State(sessionID)).Str("reply", reply.Kind.String()).Msg("File action handled")
	return reply
}

func (r *Resolver) command(ctx context.Context, sessionID int64, text string) Reply {
	if text == "" {
		return errorf("Please enter a command\n\n%s", usage)
	}
	parts := strings.SplitN(text, " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		if isCommand(parts[0]) {
			return errorf("Please provide a filename\n\n%s", usage)
		}
		return errorf("Unknown command: '%s'\n\n%s", parts[0], usage)
	}

	cmd := Op(strings.ToLower(parts[0]))
	name := strings.TrimSpace(parts[1])

	switch cmd {
	case OpOpen, OpDelete:
		if hits := r.cache.Search(sessionID, name); len(hits) > 0 && len(hits) <= r.limit {
			r.pending.Set(sessionID, &PendingAction{Kind: CacheLimit, Op: cmd, Query: name, Files: hits})
			return r.cacheMenu(cmd, hits)
		}
		return r.find(ctx, sessionID, cmd, name, "")
	case OpCreate:
		if err := ValidateFilename(filepath.Base(name), false); errors.Is(err, ErrInvalidChars) {
			return invalidFilename(err)
		}
		r.pending.Set(sessionID, &PendingAction{Kind: CreateLocation, Filename: name})
		return promptf("📝 Create '%s' at:\n\n  1. Desktop (default)\n  2. Custom path\n\nType '1', '2', or 'cancel'", name)
	}
	return errorf("Unknown command: '%s'\n\n%s", parts[0], usage)
}

func (r *Resolver) cacheMenu(op Op, files []string) Reply {
	verb := "Open"
	if op == OpDelete {
		verb = "Delete"
	}
	example := `C:\`
	if drives := r.drives(); len(drives) > 0 {
		example = drives[0]
	}
	return promptf("📦 Found %d file(s) in recent cache.\n\n%s\n\nSelect an option:\n"+
		"  • Number (1-%d) - %s that file\n"+
		"  • 'all' - Search all drives\n"+
		"  • Drive letter (e.g., '%s') - Search specific drive",
		len(files), numbered(files), len(files), verb, example)
}

// find runs a filesystem search and moves on according to how many files matched.
func (r *Resolver) find(ctx context.Context, sessionID int64, op Op, name, drive string) Reply {
	files, err := r.search.Find(ctx, name, drive)
	if err != nil {
		log.Warn().Err(err).Str("query", name).Msg("File search stopped")
		return warnf("Search cancelled after %d match(es)", len(files))
	}

	switch len(files) {
	case 0:
		if drive != "" {
			return errorf("File '%s' not found on %s", name, drive)
		}
		return errorf("File '%s' not found in any drive", name)
	case 1:
		return r.resolved(sessionID, op, files[0])
	}

	r.pending.Set(sessionID, &PendingAction{Kind: SelectFile, Op: op, Query: name, Files: files})
	return promptf("📊 Found %d file(s) matching '%s'\n\n%s\n\nType a number (1-%d) to %s that file, or 'c' to cancel",
		len(files), name, numbered(files), len(files), op)
}

// resolved acts on a single chosen path: open it, or ask before deleting it.
func (r *Resolver) resolved(sessionID int64, op Op, path string) Reply {
	if op == OpOpen {
		r.pending.Clear(sessionID)
		return r.open(sessionID, path)
	}

	r.pending.Set(sessionID, &PendingAction{Kind: DeleteConfirm, Path: path})
	if IsSystemPath(path) {
		return warnf("WARNING: This appears to be a system file!\n📂 %s\n\n"+
			"Deleting system files can damage your installation.\nType 'y' to continue or 'n' to cancel", path)
	}
	return promptf("🗑️ Delete '%s'?\n📂 %s\n\nType 'y' to confirm or 'n' to cancel", filepath.Base(path), path)
}

func (r *Resolver) onCacheChoice(ctx context.Context, sessionID int64, a *PendingAction, text string) Reply {
	if strings.EqualFold(text, "all") {
		r.pending.Clear(sessionID)
		return r.find(ctx, sessionID, a.Op, a.Query, "")
	}
	if n, ok := choice(text, len(a.Files)); ok {
		return r.resolved(sessionID, a.Op, a.Files[n])
	}
	if drive, ok := normalizeDrive(text); ok {
		if !isDir(drive) {
			return errorf("Drive not found: %s", drive)
		}
		r.pending.Clear(sessionID)
		return r.find(ctx, sessionID, a.Op, a.Query, drive)
	}
	return errorf("Invalid choice. Type a number (1-%d), 'all', a drive letter, or 'c' to cancel", len(a.Files))
}

func (r *Resolver) onSelection(sessionID int64, a *PendingAction, text string) Reply {
	n, ok := choice(text, len(a.Files))
	if !ok {
		return errorf("Invalid choice. Type a number (1-%d) or 'c' to cancel", len(a.Files))
	}
	return r.resolved(sessionID, a.Op, a.Files[n])
}

func (r *Resolver) onDeleteConfirm(sessionID int64, a *PendingAction, text string) Reply {
	switch {
	case isYes(text):
		if IsSystemPath(a.Path) && !a.SystemWarned {
			r.pending.Set(sessionID, &PendingAction{Kind: DeleteConfirm, Path: a.Path, SystemWarned: true})
			return warnf("Are you absolutely sure you want to delete this system file?\n📂 %s\n\n"+
				"Type 'y' again to delete it permanently or 'n' to cancel", a.Path)
		}
		r.pending.Clear(sessionID)
		return r.delete(sessionID, a.Path)
	case isNo(text):
		r.pending.Clear(sessionID)
		return infof("Deletion cancelled")
	}
	return errorf("Please type 'y' to delete or 'n' to cancel")
}

func (r *Resolver) onOverwrite(sessionID int64, a *PendingAction, text string) Reply {
	switch {
	case isYes(text):
		r.pending.Clear(sessionID)
		if err := CreateEmpty(a.Path, true); err != nil {
			return createFailure(err)
		}
		r.remember(sessionID, a.Path)
		return successf("File overwritten: %s\n📂 Location: %s", a.Filename, filepath.Dir(a.Path))
	case isNo(text):
		r.pending.Clear(sessionID)
		return infof("File creation cancelled")
	}
	return errorf("Please type 'y' to overwrite or 'n' to cancel")
}

func (r *Resolver) onCreateLocation(sessionID int64, a *PendingAction, text string) Reply {
	switch strings.ToLower(text) {
	case "", "1", "desktop":
		if err := ValidateFilename(a.Filename, false); err != nil {
			return invalidFilename(err)
		}
		return r.create(sessionID, a.Filename, r.desktop())
	case "2", "custom":
		r.pending.Set(sessionID, &PendingAction{Kind: CustomPath, Filename: a.Filename})
		return promptf("📂 Enter the folder where '%s' should be created, or 'cancel'", a.Filename)
	}
	return errorf("Invalid choice. Type '1' for Desktop, '2' for a custom path, or 'cancel'")
}

func (r *Resolver) onCustomPath(sessionID int64, a *PendingAction, text string) Reply {
	dir := strings.Trim(text, `"'`)
	info, err := os.Stat(dir)
	if err != nil {
		return errorf("Path does not exist: %s", dir)
	}
	if !info.IsDir() {
		return errorf("Path is not a directory: %s", dir)
	}
	if err := ValidateFilename(a.Filename, true); err != nil {
		return invalidFilename(err)
	}
	return r.create(sessionID, filepath.Base(a.Filename), dir)
}

// create makes name inside dir, or asks first when it already exists.
func (r *Resolver) create(sessionID int64, name, dir string) Reply {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		r.pending.Set(sessionID, &PendingAction{Kind: Overwrite, Path: path, Filename: name})
		return warnf("File already exists: %s\n📂 Location: %s\n\nType 'y' to overwrite or 'n' to cancel", name, dir)
	}

	r.pending.Clear(sessionID)
	if err := CreateEmpty(path, false); err != nil {
		return createFailure(err)
	}
	r.remember(sessionID, path)
	log.Info().Int64("session_id", sessionID).Str("path", path).Msg("File created")
	return successf("File created: %s\n📂 Location: %s", name, dir)
}

func (r *Resolver) open(sessionID int64, path string) Reply {
	if err := r.opener.Open(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.forgetPath(sessionID, path)
		}
		return openFailure(err)
	}
	r.remember(sessionID, path)
	log.Info().Int64("session_id", sessionID).Str("path", path).Msg("File opened")
	return successf("Opened: %s\n📂 Location: %s", filepath.Base(path), path)
}

func (r *Resolver) delete(sessionID int64, path string) Reply {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.forgetPath(sessionID, path)
		}
		return deleteFailure(err)
	}
	r.forgetPath(sessionID, path)
	log.Info().Int64("session_id", sessionID).Str("path", path).Msg("File deleted")
	return successf("Deleted: %s", filepath.Base(path))
}

func (r *Resolver) remember(sessionID int64, path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := r.cache.Touch(sessionID, path); err != nil {
		log.Warn().Err(err).Int64("session_id", sessionID).Msg("Error updating file cache")
	}
}

func (r *Resolver) forgetPath(sessionID int64, path string) {
	if err := r.cache.Remove(sessionID, path); err != nil {
		log.Warn().Err(err).Int64("session_id", sessionID).Msg("Error updating file cache")
	}
}

func numbered(files []string) string {
	lines := make([]string, 0, len(files))
	for i, f := range files {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, f))
	}
	return strings.Join(lines, "\n")
}

// choice parses a 1-based menu number into an index.
func choice(text string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func isCommand(word string) bool {
	switch Op(strings.ToLower(word)) {
	case OpOpen, OpDelete, OpCreate:
		return true
	}
	return false
}

func isCancel(text string) bool {
	switch strings.ToLower(text) {
	case "c", "cancel", "q", "quit":
		return true
	}
	return false
}

func isYes(text string) bool {
	switch strings.ToLower(text) {
	case "y", "yes":
		return true
	}
	return false
}

func isNo(text string) bool {
	switch strings.ToLower(text) {
	case "n", "no":
		return true
	}
	return false
}
