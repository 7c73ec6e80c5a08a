package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const invalidFilenameChars = `<>:"|?*`

var (
	ErrNoApplication = errors.New("no associated application")

	ErrPathSeparators = errors.New("filename contains path separators")
	ErrInvalidChars   = errors.New("filename contains invalid characters")
	ErrEmptyFilename  = errors.New("filename is empty")
)

// systemDirs mark paths whose deletion needs an extra confirmation.
var systemDirs = []string{"Windows", "Program Files", "Program Files (x86)", "System32", "SysWOW64"}

// Opener hands a file to the desktop's default application.
type Opener interface {
	Open(path string) error
}

// SystemOpener uses the platform's "open with default application" command.
type SystemOpener struct{}

func (SystemOpener) Open(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	case "darwin":
		cmd = exec.Command("open", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrNoApplication, err)
	}
	go cmd.Wait()
	return nil
}

// IsSystemPath reports whether any folder on the path is a system folder.
func IsSystemPath(path string) bool {
	dir := filepath.Dir(filepath.Clean(path))
	for _, part := range strings.FieldsFunc(dir, func(r rune) bool { return r == '/' || r == '\\' }) {
		for _, sys := range systemDirs {
			if strings.EqualFold(part, sys) {
				return true
			}
		}
	}
	return false
}

// DesktopDir finds the user's Desktop, including OneDrive-redirected ones, and falls back to
// the working directory.
func DesktopDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		for _, dir := range []string{
			filepath.Join(home, "Desktop"),
			filepath.Join(home, "OneDrive", "Desktop"),
			filepath.Join(home, "OneDrive - Personal", "Desktop"),
		} {
			if isDir(dir) {
				return dir
			}
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// ValidateFilename checks a name for a new file. Path separators are only allowed when the
// name is part of a custom location, in which case only its base name is checked.
func ValidateFilename(name string, custom bool) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyFilename
	}
	base := name
	if custom {
		base = filepath.Base(name)
	} else if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return ErrPathSeparators
	}
	if strings.ContainsAny(base, invalidFilenameChars) {
		return ErrInvalidChars
	}
	return nil
}

// CreateEmpty creates an empty file, replacing an existing one when overwrite is set.
func CreateEmpty(path string, overwrite bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if overwrite {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func invalidFilename(err error) Reply {
	switch {
	case errors.Is(err, ErrEmptyFilename):
		return errorf("Filename cannot be empty")
	case errors.Is(err, ErrPathSeparators):
		return errorf("Invalid filename. Cannot contain path separators")
	default:
		return errorf("Invalid filename. Cannot contain: %s", invalidFilenameChars)
	}
}

func openFailure(err error) Reply {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errorf("File no longer exists at this location")
	case errors.Is(err, fs.ErrPermission):
		return errorf("Permission denied. Cannot open this file")
	case errors.Is(err, ErrNoApplication):
		return errorf("Cannot open file: No associated application found")
	default:
		return errorf("Failed to open: %v", err)
	}
}

func deleteFailure(err error) Reply {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errorf("File no longer exists at this location")
	case errors.Is(err, fs.ErrPermission):
		return errorf("Permission denied. File may be in use or protected")
	default:
		return errorf("Failed to delete: %v", err)
	}
}

func createFailure(err error) Reply {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return errorf("Permission denied. Cannot create file")
	case errors.Is(err, fs.ErrExist):
		return errorf("File already exists")
	default:
		return errorf("Failed to create file: %v", err)
	}
}
