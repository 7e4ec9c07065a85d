package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"imessage-codex-bridge/internal/ui"
)

var auditTailCount int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the append-only audit log",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		events, err := s.ListRecentAudit(cmd.Context(), auditTailCount)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("no audit events")
			return nil
		}
		u := ui.New()
		table := u.Table([]string{"TIME", "KIND", "PHONE", "SUMMARY"})
		for _, e := range events {
			_ = table.Append([]string{e.Timestamp.Format("2006-01-02T15:04:05"), e.Kind, e.PhoneNumber, e.Summary})
		}
		_ = table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&auditTailCount, "count", "n", 20, "number of recent events to show")
}
