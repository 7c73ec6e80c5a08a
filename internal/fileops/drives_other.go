//go:build !windows

package fileops

import (
	"path/filepath"
	"strings"
)

// systemRoots are pseudo and device filesystems the drive pass never descends into.
var systemRoots = []string{"/proc", "/sys", "/dev", "/run"}

// Drives returns the filesystem root; there are no drive letters here.
func Drives() []string {
	return []string{"/"}
}

// normalizeDrive accepts any absolute directory path as a search root.
func normalizeDrive(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if !filepath.IsAbs(t) {
		return "", false
	}
	return filepath.Clean(t), true
}
