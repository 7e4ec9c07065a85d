// Package lock provides the bridge's single-instance guard: an exclusive
// file lock holding the owning process's PID, so the shell-level
// supervisor (spec §9: "the in-process lock must prevent two bridges
// from running concurrently") can never end up with two orchestrators
// racing over the same SQLite database and child process.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrHeld is returned by Acquire when another live process already holds
// the lock.
var ErrHeld = errors.New("lock held by another process")

// Lock manages an exclusive PID-bearing lock file for daemon process
// tracking. The exclusivity itself is platform-specific (flock on Unix,
// a liveness check on Windows) and lives in lock_unix.go / lock_windows.go.
type Lock struct {
	Path string
	file *os.File
}

// New creates a Lock manager for the given path. The lock is not held
// until Acquire succeeds.
func New(path string) *Lock {
	return &Lock{Path: path}
}

// WritePID writes the given PID to the file, truncating any prior content.
func (l *Lock) WritePID(pid int) error {
	return os.WriteFile(l.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID recorded in the lock file.
func (l *Lock) Read() (int, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid lock file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the lock file. Callers should only do this after
// Release.
func (l *Lock) Remove() error {
	return os.Remove(l.Path)
}
