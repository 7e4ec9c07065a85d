package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"imessage-codex-bridge/internal/lock"
	"imessage-codex-bridge/internal/ui"
)

var stopForce bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running bridge daemon",
	Long: `Signal the bridge daemon recorded in the lock file to shut down.
Sends SIGTERM and returns; with --force it then waits up to about two
seconds for the process to exit and sends SIGKILL if it's still running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopRun()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "escalate to SIGKILL if the process doesn't exit")
}

func stopRun() error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	l := lock.New(c.LockPath)

	u := ui.New()

	pid, running := l.IsRunning()
	if !running {
		u.Info("bridge is not running")
		return nil
	}

	if err := l.Signal(sigTERM()); err != nil {
		return fmt.Errorf("send SIGTERM to pid %d: %w", pid, err)
	}
	u.Success("sent SIGTERM to pid %d", pid)

	if !stopForce {
		return nil
	}

	for i := 0; i < 10; i++ {
		time.Sleep(200 * time.Millisecond)
		if _, stillRunning := l.IsRunning(); !stillRunning {
			return nil
		}
	}

	if err := l.Signal(sigKILL()); err != nil {
		return fmt.Errorf("send SIGKILL to pid %d: %w", pid, err)
	}
	u.Warning("sent SIGKILL to pid %d", pid)
	return nil
}
