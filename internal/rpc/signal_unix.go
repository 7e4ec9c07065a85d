//go:build !windows

package rpc

import (
	"os"
	"syscall"
)

func processTerminateSignal() os.Signal {
	return syscall.SIGTERM
}
