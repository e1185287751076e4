package batch

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const tempDirPrefix = "kmanBatch"

// TempDir is a lazily created scoped directory holding batch spill files.
// It is safe for concurrent use: parallel build tasks create their files in it.
type TempDir struct {
	root string

	mu      sync.Mutex
	path    string
	removed bool
}

// NewTempDir returns a scoped directory under root (os.TempDir() if empty).
// Nothing is created until the first call to Path or CreateFile.
func NewTempDir(root string) *TempDir {
	return &TempDir{root: root}
}

// Path returns the directory path, creating it on first use
func (d *TempDir) Path() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed {
		return "", ioError("mkdir", d.root, os.ErrClosed)
	}
	if d.path != "" {
		return d.path, nil
	}

	root := d.root
	if root == "" {
		root = os.TempDir()
	}
	path, err := os.MkdirTemp(root, tempDirPrefix)
	if err != nil {
		return "", ioError("mkdir", root, err)
	}
	d.path = path

	log.Debug().Str("tmp_dir", path).Msg("Batch temp directory created")
	return path, nil
}

// CreateFile creates a new empty file with a collision-free name and returns its path
func (d *TempDir) CreateFile(suffix string) (string, error) {
	dir, err := d.Path()
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, uuid.NewString()+suffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", ioError("create", path, err)
	}
	if err := f.Close(); err != nil {
		return "", ioError("close", path, err)
	}
	return path, nil
}

// Remove deletes the directory and everything in it. Later Path calls fail.
func (d *TempDir) Remove() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removed = true
	if d.path == "" {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil {
		return ioError("remove", d.path, err)
	}

	log.Debug().Str("tmp_dir", d.path).Msg("Batch temp directory removed")
	d.path = ""
	return nil
}
