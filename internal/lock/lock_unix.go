//go:build !windows

package lock

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Acquire takes the exclusive flock on Path, creating it if necessary, and
// writes the current PID into it. Returns ErrHeld if another live process
// already holds the lock.
func (l *Lock) Acquire() error {
	f, err := os.OpenFile(l.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			pid, _ := l.Read()
			return fmt.Errorf("%w: held by pid %d", ErrHeld, pid)
		}
		return fmt.Errorf("flock: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		_ = f.Close()
		return fmt.Errorf("write pid: %w", err)
	}

	l.file = f
	return nil
}

// Release drops the flock and closes the underlying file. The lock file
// itself is left in place (harmless once unlocked) unless Remove is
// called separately.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// IsRunning checks if the PID recorded in the lock file refers to a live
// process, without taking the lock itself.
func (l *Lock) IsRunning() (int, bool) {
	pid, err := l.Read()
	if err != nil {
		return 0, false
	}
	// Signal 0 tests if the process exists without sending a signal.
	err = syscall.Kill(pid, 0)
	return pid, err == nil
}

// Signal sends the given signal to the process recorded in the lock file.
func (l *Lock) Signal(sig syscall.Signal) error {
	pid, err := l.Read()
	if err != nil {
		return fmt.Errorf("read lock file: %w", err)
	}
	return syscall.Kill(pid, sig)
}
