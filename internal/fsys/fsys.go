// Package fsys abstracts the byte-stream store a checkpoint directory lives
// in. The coordinators only need to open, create and list streams by relative
// name; anything speaking this interface (local disk, object store, model
// hub) can back a checkpoint.
package fsys

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FS is a flat namespace of named byte streams rooted at one checkpoint
// directory. Names are relative; implementations resolve them against their
// own root.
type FS interface {
	// Create opens a named stream for writing, truncating any existing one.
	Create(name string) (io.WriteCloser, error)
	// Open opens a named stream for reading.
	Open(name string) (io.ReadCloser, error)
	// List returns the base names of all streams in the root.
	List() ([]string, error)
	// Exists reports whether the named stream exists.
	Exists(name string) (bool, error)
}

// Options carries store-level settings. Token is an access credential
// forwarded to stores that require authentication; the local store ignores
// it.
type Options struct {
	Token string
}

// Resolve maps a path to a store implementation. Local directories are the
// only scheme built in, and the local store has no use for a credential, so
// Options.Token is accepted but ignored here. It takes effect only for
// remote stores, which plug in by implementing FS and being injected in
// place of the resolved store.
func Resolve(path string, opts Options) (FS, error) {
	return NewLocal(path)
}

// Local is an FS over a local directory.
type Local struct {
	root string
}

// NewLocal returns a Local store rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return &Local{root: dir}, nil
}

// Create implements FS.
func (l *Local) Create(name string) (io.WriteCloser, error) {
	//nolint:gosec // G304: checkpoint paths come from the caller by design
	f, err := os.Create(filepath.Join(l.root, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return f, nil
}

// Open implements FS.
func (l *Local) Open(name string) (io.ReadCloser, error) {
	//nolint:gosec // G304: checkpoint paths come from the caller by design
	f, err := os.Open(filepath.Join(l.root, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// List implements FS.
func (l *Local) List() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", l.root, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Exists implements FS.
func (l *Local) Exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(l.root, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return true, nil
}
