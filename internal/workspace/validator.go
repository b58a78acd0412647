// Package workspace confines every caller-supplied path to the configured
// workspace root and applies the blocklist globs.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"golang.org/x/sys/unix"
)

var (
	// ErrEscapesWorkspace marks paths that resolve outside the workspace root.
	ErrEscapesWorkspace = errors.New("path escapes workspace root")
	// ErrBlocked marks paths denied by a blocklist pattern.
	ErrBlocked = errors.New("path blocked by pattern")
)

// Validator canonicalizes paths against a workspace root and rejects anything
// that escapes it or matches a blocklist glob. Blocklist patterns are applied
// after symlink resolution so renames and links cannot bypass them.
type Validator struct {
	root     string
	patterns []string
}

// NewValidator resolves root (symlinks included) and returns a validator
// carrying the given blocklist patterns. The root must exist.
func NewValidator(root string, patterns []string) (*Validator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize workspace root %q: %w", abs, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q not accessible: %w", resolved, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", resolved)
	}
	return &Validator{
		root:     resolved,
		patterns: append([]string(nil), patterns...),
	}, nil
}

// Root returns the canonical workspace root.
func (v *Validator) Root() string {
	return v.root
}

// Patterns returns the active blocklist globs.
func (v *Validator) Patterns() []string {
	return append([]string(nil), v.patterns...)
}

// WithUserPatterns returns a validator with extra blocklist globs appended.
// Overlays only ever add patterns.
func (v *Validator) WithUserPatterns(extra []string) *Validator {
	if len(extra) == 0 {
		return v
	}
	merged := make([]string, 0, len(v.patterns)+len(extra))
	merged = append(merged, v.patterns...)
	merged = append(merged, extra...)
	return &Validator{root: v.root, patterns: merged}
}

// Validate canonicalizes input and returns the absolute path when it lies
// under the workspace root and matches no blocklist glob. Empty, "." and "/"
// all mean the root itself. Symlinks are fully resolved before the descendant
// check; for paths that do not exist yet, the deepest existing ancestor is
// resolved and the remainder re-joined.
func (v *Validator) Validate(input string) (string, error) {
	cleaned := strings.TrimSpace(input)

	var candidate string
	switch cleaned {
	case "", ".", "/":
		candidate = v.root
	default:
		if filepath.IsAbs(cleaned) {
			candidate = filepath.Clean(cleaned)
		} else {
			candidate = filepath.Join(v.root, cleaned)
		}
	}

	resolved, err := resolveSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", input, err)
	}

	rel, err := filepath.Rel(v.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrEscapesWorkspace, input)
	}
	if rel == "." {
		rel = ""
	}

	base := filepath.Base(resolved)
	for _, pattern := range v.patterns {
		if wildcard.Match(pattern, base) || wildcard.Match(pattern, rel) {
			return "", fmt.Errorf("%w %q: %q", ErrBlocked, pattern, input)
		}
	}

	return resolved, nil
}

// ValidateForWrite performs Validate and additionally requires the parent
// directory to exist and be writable.
func (v *Validator) ValidateForWrite(input string) (string, error) {
	path, err := v.Validate(input)
	if err != nil {
		return "", err
	}

	parent := filepath.Dir(path)
	info, err := os.Stat(parent)
	if err != nil {
		return "", fmt.Errorf("parent directory of %q not accessible: %w", input, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("parent of %q is not a directory", input)
	}
	if err := unix.Access(parent, unix.W_OK); err != nil {
		return "", fmt.Errorf("parent directory %q not writable: %w", parent, err)
	}

	return path, nil
}

// Rel returns the workspace-relative form of an already-validated path.
// The root itself maps to "".
func (v *Validator) Rel(path string) string {
	rel, err := filepath.Rel(v.root, path)
	if err != nil || rel == "." {
		return ""
	}
	return rel
}

// resolveSymlinks canonicalizes path even when its tail does not exist yet by
// resolving the deepest existing ancestor and re-joining the remainder.
func resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	cleaned := filepath.Clean(path)
	parent := filepath.Dir(cleaned)
	if parent == cleaned {
		// Hit the filesystem root without finding an existing ancestor.
		return "", err
	}
	resolvedParent, err := resolveSymlinks(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(cleaned)), nil
}
