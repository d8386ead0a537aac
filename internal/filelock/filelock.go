// Package filelock keeps a second daemon from running against the same data
// directory.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// FileName is the lock file created inside the data directory.
const FileName = "safetrack.lock"

// FileLock is an exclusive advisory lock on a file.
type FileLock struct {
	path string
	file *os.File
}

// New creates a lock at path. Nothing is acquired until TryLock.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// NewForDir creates the daemon lock for a data directory.
func NewForDir(dir string) *FileLock {
	return New(filepath.Join(dir, FileName))
}

// Path returns the lock file location.
func (fl *FileLock) Path() string {
	return fl.path
}

// Acquire locks the data directory or fails with ErrAlreadyLocked.
func Acquire(dir string) (*FileLock, error) {
	fl := NewForDir(dir)
	if err := fl.TryLock(); err != nil {
		return nil, err
	}
	return fl, nil
}

// TryLock takes the lock without waiting. If another process holds it the
// error matches ErrAlreadyLocked and names the holder's pid when known.
// The current pid is written to the file once the lock is held.
func (fl *FileLock) TryLock() error {
	if fl.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(fl.path), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid, ok := Holder(fl.path); ok {
				return fmt.Errorf("%w (pid %d)", apperrors.ErrAlreadyLocked, pid)
			}
			return apperrors.ErrAlreadyLocked
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	fl.file = f
	return nil
}

// Held reports whether this FileLock currently owns the lock.
func (fl *FileLock) Held() bool {
	return fl.file != nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	_ = fl.file.Truncate(0)
	err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	closeErr := fl.file.Close()
	fl.file = nil

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close lock file: %w", closeErr)
	}
	return nil
}

// Holder reads the pid recorded in the lock file at path.
func Holder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
