package voicecache

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// ResolvePath canonicalizes a voice path: "~" is expanded, the path is made
// absolute and cleaned, and symlinks are followed when the target exists.
func ResolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("empty voice path")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return abs, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	return resolved, nil
}

// SamePath reports whether two voice paths name the same file.
func SamePath(a, b string) bool {
	ra, err := ResolvePath(a)
	if err != nil {
		return false
	}
	rb, err := ResolvePath(b)
	if err != nil {
		return false
	}
	return ra == rb
}
