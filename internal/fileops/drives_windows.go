//go:build windows

package fileops

import (
	"fmt"
	"strings"
)

var systemRoots []string

// Drives returns every mounted drive root, e.g. `C:\`.
func Drives() []string {
	var drives []string
	for letter := 'A'; letter <= 'Z'; letter++ {
		root := fmt.Sprintf(`%c:\`, letter)
		if isDir(root) {
			drives = append(drives, root)
		}
	}
	return drives
}

// normalizeDrive turns "c", "c:" or `C:\` into `C:\`.
func normalizeDrive(text string) (string, bool) {
	t := strings.ToUpper(strings.TrimRight(strings.TrimSpace(text), `\/`))
	t = strings.TrimSuffix(t, ":")
	if len(t) != 1 || t[0] < 'A' || t[0] > 'Z' {
		return "", false
	}
	return t + `:\`, true
}
