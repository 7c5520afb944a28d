// Package safety guards filesystem paths handed to adapters. Document
// sends may only reference files under a small set of trusted roots.
package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUntrustedPath marks a path outside every trusted root.
	ErrUntrustedPath = errors.New("path outside trusted directories")
	// ErrPathTraversal marks a path containing ".." segments.
	ErrPathTraversal = errors.New("path traversal rejected")
)

// TrustedRoots is the set of directory prefixes document sends may read
// from. Comparison runs on canonical (symlink-resolved) paths.
type TrustedRoots struct {
	roots []string
}

// DefaultRootsFor returns the built-in trusted set: /tmp, the gateway
// state root and the user's Documents directory, plus any extras.
func DefaultRootsFor(stateRoot string, extra ...string) *TrustedRoots {
	roots := []string{"/tmp", stateRoot}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, "Documents"))
	}
	roots = append(roots, extra...)
	return NewTrustedRoots(roots)
}

// NewTrustedRoots canonicalizes the given directories. Roots that do not
// exist yet are kept in cleaned absolute form.
func NewTrustedRoots(dirs []string) *TrustedRoots {
	t := &TrustedRoots{}
	for _, d := range dirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		t.roots = append(t.roots, filepath.Clean(abs))
	}
	return t
}

// Roots returns the canonical root list.
func (t *TrustedRoots) Roots() []string {
	out := make([]string, len(t.roots))
	copy(out, t.roots)
	return out
}

// Check validates a document path. The raw input is rejected before any
// filesystem access when it carries ".." segments; the surviving path is
// canonicalized and must fall under a trusted root.
func (t *TrustedRoots) Check(path string) (string, error) {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUntrustedPath, path)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// Resolve the parent so a symlinked directory cannot smuggle
			// a yet-to-exist file out of the trusted set.
			parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
			if perr != nil {
				return "", fmt.Errorf("%w: %s", ErrUntrustedPath, path)
			}
			real = filepath.Join(parent, filepath.Base(abs))
		} else {
			return "", fmt.Errorf("%w: %s", ErrUntrustedPath, path)
		}
	}

	for _, root := range t.roots {
		if isInside(real, root) {
			return real, nil
		}
	}
	return "", fmt.Errorf("%w: %s (trusted: %s)", ErrUntrustedPath, path, strings.Join(t.roots, ", "))
}

func isInside(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
