package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanPath normalizes a gateway path: rooted, slash-separated, no dot
// segments. It rejects paths that climb above the root.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("path contains NUL byte")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains directory traversal: %s", p)
		}
	}
	return path.Clean("/" + p), nil
}

// ObjectKey translates a gateway path into an object key under root. The
// leading slash is dropped so keys never start with "/".
func ObjectKey(root, p string) (string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	key := strings.TrimPrefix(clean, "/")
	root = strings.Trim(root, "/")
	if root == "" {
		return key, nil
	}
	if key == "" {
		return root, nil
	}
	return root + "/" + key, nil
}

// SecureJoin joins a gateway path onto a local base directory and ensures the
// result stays within it.
func SecureJoin(base, p string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}
	clean, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	cleanBase := filepath.Clean(base)
	full := filepath.Join(cleanBase, filepath.FromSlash(clean))
	if full != cleanBase && !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}
	return full, nil
}
