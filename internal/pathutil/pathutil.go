// Package pathutil validates and derives FlowFile filenames before they are
// joined to a sink directory.
package pathutil

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateFlowFileName checks that name stays inside the directory it is
// joined to. Absolute names, volume names, ".." segments and names that
// denote a directory are rejected. Segments are checked before cleaning, so
// "a/../b" is rejected even though it cleans to "b".
func ValidateFlowFileName(name string) error {
	if name == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("filename contains invalid characters")
	}

	normalized := strings.ReplaceAll(filepath.ToSlash(name), `\`, "/")
	if strings.HasPrefix(normalized, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("filename must be relative: %q", name)
	}
	if hasDriveLetter(normalized) {
		return fmt.Errorf("filename must be relative: %q", name)
	}
	if strings.HasSuffix(normalized, "/") {
		return fmt.Errorf("filename denotes a directory: %q", name)
	}

	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return fmt.Errorf("filename contains path traversal: %q", name)
		}
	}
	if path.Clean(normalized) == "." {
		return fmt.Errorf("filename denotes a directory: %q", name)
	}
	return nil
}

func hasDriveLetter(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0] | 0x20
	return c >= 'a' && c <= 'z'
}

// PrefixedName prefixes the last element of name with id, keeping any
// directory part: PrefixedName("a/people.json", "u1") is "a/u1-people.json".
func PrefixedName(name, id string) string {
	dir, base := path.Split(filepath.ToSlash(name))
	return dir + id + "-" + base
}
