package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrDirectoryLocked reports a result directory already used by another run.
var ErrDirectoryLocked = errors.New("result directory is locked by another run")

const lockFileName = ".extproc-bench.lock"

// LockDirectory creates dir if needed and takes an exclusive advisory lock on it so
// two runs never interleave report files. Call the returned function to release.
func LockDirectory(dir string) (unlock func() error, err error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock result directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryLocked, dir)
	}
	return lock.Unlock, nil
}
