// Package safepath confines untrusted, caller supplied paths to a base
// directory.
package safepath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/torfstack/twin/internal/protocol"
)

const parentDir = ".."

// ValidatedPath is a path proven to resolve inside its base directory.
// The zero value is not valid; values come only from Resolve.
type ValidatedPath struct {
	base string
	abs  string
}

// String returns the absolute, resolved path.
func (p ValidatedPath) String() string {
	return p.abs
}

func (p ValidatedPath) Base() string {
	return p.base
}

// IsBase reports whether the path names the base directory itself.
func (p ValidatedPath) IsBase() bool {
	return p.abs == p.base
}

// ResolveBase turns dir into the absolute, symlink free form Resolve
// expects as its base.
func ResolveBase(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("could not make '%s' absolute: %w", dir, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("could not resolve base directory '%s': %w", abs, err)
	}
	return resolved, nil
}

// Resolve validates raw against base, which must come from ResolveBase.
// Parent segments are rejected on the raw input before anything is
// cleaned or resolved.
func Resolve(base, raw string) (ValidatedPath, error) {
	if raw == "" {
		return ValidatedPath{}, protocol.Errorf(protocol.KindInvalidPath, "empty path")
	}
	if strings.ContainsRune(raw, 0) {
		return ValidatedPath{}, protocol.Errorf(protocol.KindInvalidPath, "path contains NUL byte")
	}

	rel := trimLeadingSeparator(raw)
	for _, segment := range strings.FieldsFunc(rel, isSeparator) {
		if segment == parentDir {
			return ValidatedPath{}, protocol.Errorf(protocol.KindInvalidPath, "parent segment in %q", raw)
		}
	}

	candidate := filepath.Join(base, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// Nothing to follow yet; the lexical form is all there is to open.
		resolved = candidate
	}

	if !within(base, resolved) {
		return ValidatedPath{}, protocol.Errorf(protocol.KindInvalidPath, "%q resolves outside of base directory", raw)
	}
	return ValidatedPath{base: base, abs: resolved}, nil
}

func within(base, path string) bool {
	if path == base {
		return true
	}
	prefix := strings.TrimSuffix(base, string(os.PathSeparator)) + string(os.PathSeparator)
	return strings.HasPrefix(path, prefix)
}

func trimLeadingSeparator(p string) string {
	if p != "" && isSeparator(rune(p[0])) {
		return p[1:]
	}
	return p
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\' || r == os.PathSeparator
}
