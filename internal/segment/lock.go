package segment

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/epokhe/kvengine/pkg/kverrors"
)

// DirLock is an advisory, process-exclusive lock on a data directory,
// implemented with flock(2) on a dedicated LOCK file. It prevents two
// Engine instances from opening the same directory concurrently.
type DirLock struct {
	file *os.File
}

// LockDir acquires an exclusive, non-blocking flock on <dir>/LOCK. If
// another process already holds it, returns ErrLocked.
func LockDir(dir string) (*DirLock, error) {
	path := dir + string(os.PathSeparator) + "LOCK"

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lock: open %q: %w: %v", path, kverrors.ErrIO, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, fmt.Errorf("lock: %q held by another process: %w", path, kverrors.ErrLocked)
		}
		return nil, fmt.Errorf("lock: flock %q: %w: %v", path, kverrors.ErrIO, err)
	}

	return &DirLock{file: f}, nil
}

// Unlock releases the flock and closes the LOCK file handle.
func (l *DirLock) Unlock() error {
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("lock: close: %w: %v", kverrors.ErrIO, err)
	}
	return nil
}
