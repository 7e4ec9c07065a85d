package cmd

import (
	"github.com/spf13/cobra"

	"imessage-codex-bridge/internal/ui"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Manage the inbound-message dedupe table",
}

var dedupePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all recorded dedupe entries",
	Long: `Delete every entry in the inbound-message dedupe table. This is an
administrative action only: dedupe entries are otherwise never purged
automatically, so a purge means any message handle the provider resends
afterward will be treated as new.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		n, err := s.PurgeDedupe(cmd.Context())
		if err != nil {
			return err
		}
		ui.New().Success("purged %d dedupe entries", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
	dedupeCmd.AddCommand(dedupePurgeCmd)
}
