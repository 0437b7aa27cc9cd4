package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type pathGuard struct {
	root string
}

func newPathGuard(root string) (pathGuard, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return pathGuard{}, err
	}
	return pathGuard{root: abs}, nil
}

// Resolve maps a command path onto the filesystem. Relative paths are joined
// to the root; absolute paths are accepted only when they already sit inside it.
func (p pathGuard) Resolve(path string) (string, error) {
	var target string
	switch {
	case path == "":
		target = p.root
	case filepath.IsAbs(path):
		target = path
	default:
		target = filepath.Join(p.root, path)
	}
	cleaned := filepath.Clean(target)
	if cleaned != p.root && !strings.HasPrefix(cleaned, p.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return cleaned, nil
}

// Rel returns the slash-separated path of abs relative to the root.
func (p pathGuard) Rel(abs string) string {
	rel, err := filepath.Rel(p.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}
