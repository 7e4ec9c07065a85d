//go:build !windows

package lock

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_AcquireAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")
	l := New(path)

	require.NoError(t, l.Acquire())
	defer l.Release()

	pid, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLock_AcquireTwice_SecondFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")
	first := New(path)
	require.NoError(t, first.Acquire())
	defer first.Release()

	second := New(path)
	err := second.Acquire()
	assert.ErrorIs(t, err, ErrHeld)
}

func TestLock_ReleaseThenReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")
	first := New(path)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := New(path)
	assert.NoError(t, second.Acquire())
	defer second.Release()
}

func TestLock_Read_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.lock")
	l := New(path)

	_, err := l.Read()
	assert.Error(t, err)
}

func TestLock_Read_InvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number\n"), 0o644))

	l := New(path)
	_, err := l.Read()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid lock file content")
}

func TestLock_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")
	l := New(path)
	require.NoError(t, l.WritePID(1))

	require.NoError(t, l.Remove())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLock_IsRunning_CurrentProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")
	l := New(path)
	require.NoError(t, l.Acquire())
	defer l.Release()

	pid, running := l.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLock_IsRunning_DeadProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")
	l := New(path)
	require.NoError(t, l.WritePID(999999))

	pid, running := l.IsRunning()
	assert.Equal(t, 999999, pid)
	assert.False(t, running)
}

func TestLock_IsRunning_NoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.lock")
	l := New(path)

	pid, running := l.IsRunning()
	assert.Equal(t, 0, pid)
	assert.False(t, running)
}

func TestLock_Signal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")
	l := New(path)
	require.NoError(t, l.Acquire())
	defer l.Release()

	// Signal 0 just checks if process exists, doesn't actually send a signal.
	err := l.Signal(syscall.Signal(0))
	assert.NoError(t, err)
}

func TestLock_Signal_NoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.lock")
	l := New(path)

	err := l.Signal(syscall.Signal(0))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read lock file")
}
