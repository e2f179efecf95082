package segment

import (
	"errors"
	"testing"

	"github.com/epokhe/kvengine/pkg/kverrors"
)

func TestLockDirExclusive(t *testing.T) {
	dir := t.TempDir()

	l1, err := LockDir(dir)
	if err != nil {
		t.Fatalf("first LockDir: %v", err)
	}
	defer l1.Unlock()

	if _, err := LockDir(dir); !errors.Is(err, kverrors.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestLockDirReacquireAfterUnlock(t *testing.T) {
	dir := t.TempDir()

	l1, err := LockDir(dir)
	if err != nil {
		t.Fatalf("LockDir: %v", err)
	}
	if err := l1.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	l2, err := LockDir(dir)
	if err != nil {
		t.Fatalf("LockDir after unlock: %v", err)
	}
	defer l2.Unlock()
}
