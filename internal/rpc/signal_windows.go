//go:build windows

package rpc

import "os"

// Windows can't deliver SIGTERM to an arbitrary child; os.Kill is the
// closest available signal through the os.Process.Signal API.
func processTerminateSignal() os.Signal {
	return os.Kill
}
