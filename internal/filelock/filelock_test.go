package filelock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

func TestAcquire(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	fl, err := Acquire(dir)
	require.NoError(t, err)
	defer fl.Unlock()

	assert.True(t, fl.Held())
	assert.Equal(t, filepath.Join(dir, FileName), fl.Path())

	pid, ok := Holder(fl.Path())
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquire_SecondHolderRejected(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	require.NoError(t, err)

	_, err = Acquire(dir)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyLocked)
	assert.Contains(t, err.Error(), "pid")

	require.NoError(t, first.Unlock())

	second, err := Acquire(dir)
	require.NoError(t, err)
	assert.NoError(t, second.Unlock())
}

func TestUnlock_Idempotent(t *testing.T) {
	fl := NewForDir(t.TempDir())
	assert.NoError(t, fl.Unlock())

	require.NoError(t, fl.TryLock())
	require.NoError(t, fl.TryLock(), "relocking a held lock is a no-op")
	assert.NoError(t, fl.Unlock())
	assert.NoError(t, fl.Unlock())
	assert.False(t, fl.Held())
}

func TestHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	_, ok := Holder(path)
	assert.False(t, ok, "missing file")

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))
	_, ok = Holder(path)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0600))
	pid, ok := Holder(path)
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)
}
