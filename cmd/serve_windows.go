//go:build windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals returns the OS signals serve listens for to begin a
// graceful shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// sigTERM returns the termination signal for `bridge stop` on Windows.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL returns the fallback kill signal for `bridge stop --force`.
func sigKILL() syscall.Signal { return syscall.SIGKILL }
