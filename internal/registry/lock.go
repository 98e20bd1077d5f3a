package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/soracane/agentwatch/internal/model"
)

// fileLock is a cross-process advisory lock scoped to the registry file.
// Acquisition is non-blocking with retry so a stuck holder can never hang
// the runtime's hook pipeline.
type fileLock struct {
	path    string
	timeout time.Duration
	backoff time.Duration
	f       *os.File
}

func newFileLock(registryPath string, timeout, backoff time.Duration) *fileLock {
	return &fileLock{
		path:    registryPath + ".lock",
		timeout: timeout,
		backoff: backoff,
	}
}

func (l *fileLock) acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(l.timeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.f = f
			return nil
		}
		if err != syscall.EWOULDBLOCK && err != syscall.EAGAIN {
			f.Close() //nolint:errcheck
			return fmt.Errorf("flock: %w", err)
		}
		if time.Now().After(deadline) {
			f.Close() //nolint:errcheck
			return fmt.Errorf("%w: %s held for over %s", model.ErrLockBusy, l.path, l.timeout)
		}
		time.Sleep(l.backoff)
	}
}

func (l *fileLock) release() error {
	f := l.f
	l.f = nil
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("unlock: %w", err)
	}
	return f.Close()
}
