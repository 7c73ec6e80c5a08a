package fileops

import (
	"path/filepath"
	"strings"
)

// Matches reports whether filename answers a partial-name query. Without an extension the query
// matches any file whose stem starts with it. With one, the extension must match exactly, unless
// the whole name matches verbatim. Comparison ignores case.
func Matches(query, filename string) bool {
	query = strings.TrimSpace(query)
	qStem, qExt := splitExt(strings.ToLower(query))
	stem, ext := splitExt(strings.ToLower(filename))

	if qExt != "" {
		if qStem != "" && strings.HasPrefix(stem, qStem) && ext == qExt {
			return true
		}
		return strings.EqualFold(filename, query)
	}
	return strings.HasPrefix(stem, qStem)
}

// splitExt splits "notes.tar.gz" into "notes.tar" and ".gz". Leading dots belong to the stem,
// so ".bashrc" has no extension.
func splitExt(name string) (string, string) {
	trimmed := strings.TrimLeft(name, ".")
	ext := filepath.Ext(trimmed)
	if ext == "" {
		return name, ""
	}
	return name[:len(name)-len(ext)], ext
}
