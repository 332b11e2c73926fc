package local

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/spf13/afero"
	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/protocol"
	"github.com/torfstack/twin/internal/safepath"
)

// Tree is a read-only file tree rooted at a resolved base directory.
type Tree struct {
	fs   afero.Fs
	base string
}

// NewTree creates dir if it does not exist and returns a read-only view
// of it.
func NewTree(dir string) (*Tree, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create files directory '%s': %w", dir, err)
	}
	base, err := safepath.ResolveBase(dir)
	if err != nil {
		return nil, err
	}
	return &Tree{fs: afero.NewReadOnlyFs(osFs), base: base}, nil
}

func (t *Tree) Base() string {
	return t.base
}

// Resolve runs the path safety gate against this tree's base.
func (t *Tree) Resolve(raw string) (safepath.ValidatedPath, error) {
	return safepath.Resolve(t.base, raw)
}

// Open opens p for streaming and returns its size. Anything that is not
// an existing regular file yields protocol.ErrNotFound.
// Opening a FIFO or device can block, so the type is checked before the
// open and again on the opened file.
func (t *Tree) Open(p safepath.ValidatedPath) (afero.File, int64, error) {
	info, err := t.fs.Stat(p.String())
	if err != nil {
		return nil, 0, notFoundOr(p, "stat", err)
	}
	if !info.Mode().IsRegular() {
		return nil, 0, protocol.Errorf(protocol.KindNotFound, "'%s' is not a regular file", p)
	}

	f, err := t.fs.Open(p.String())
	if err != nil {
		return nil, 0, notFoundOr(p, "open", err)
	}
	info, err = f.Stat()
	if err != nil {
		closeFile(f)
		return nil, 0, fmt.Errorf("could not stat '%s': %w", p, err)
	}
	if !info.Mode().IsRegular() {
		closeFile(f)
		return nil, 0, protocol.Errorf(protocol.KindNotFound, "'%s' is not a regular file", p)
	}
	return f, info.Size(), nil
}

// ReadFile reads the whole regular file at p.
func (t *Tree) ReadFile(p safepath.ValidatedPath) ([]byte, error) {
	f, size, err := t.Open(p)
	if err != nil {
		return nil, err
	}
	defer closeFile(f)

	var buf bytes.Buffer
	buf.Grow(int(size))
	if _, err = buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("could not read '%s': %w", p, err)
	}
	return buf.Bytes(), nil
}

func notFoundOr(p safepath.ValidatedPath, op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return protocol.Wrap(protocol.KindNotFound, err)
	}
	return fmt.Errorf("could not %s '%s': %w", op, p, err)
}

func closeFile(f afero.File) {
	if err := f.Close(); err != nil {
		logging.Debugf("Could not close file '%s': %s", f.Name(), err)
	}
}
