package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"imessage-codex-bridge/internal/store"
	"imessage-codex-bridge/internal/ui"
)

var (
	notificationsListSource string
	notificationsListLimit  int
	notificationsPruneDays  int
	notificationsPruneCap   int
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Inspect the notification pipeline without messaging the bot",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		rows, err := s.ListNotifications(cmd.Context(), store.NotificationListFilter{
			Source: store.NotificationSource(notificationsListSource),
			Limit:  notificationsListLimit,
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("no notifications")
			return nil
		}
		u := ui.New()
		table := u.Table([]string{"ID", "SOURCE", "STATUS", "SUMMARY"})
		for _, n := range rows {
			_ = table.Append([]string{n.ID, string(n.Source), ui.StatusColor(string(n.Status)), n.Summary})
		}
		_ = table.Render()
		return nil
	},
}

var notificationsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one notification in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		n, err := s.GetNotification(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("id:             %s\n", n.ID)
		fmt.Printf("source:         %s\n", n.Source)
		fmt.Printf("status:         %s\n", n.Status)
		fmt.Printf("dedupe_key:     %s\n", n.DedupeKey)
		fmt.Printf("summary:        %s\n", n.Summary)
		fmt.Printf("delivery:       %s\n", n.Delivery)
		fmt.Printf("duplicate_ct:   %d\n", n.DuplicateCount)
		fmt.Printf("received_at:    %s\n", n.ReceivedAt.Format(time.RFC3339))
		if n.ErrorText != "" {
			fmt.Printf("error:          %s\n", n.ErrorText)
		}
		return nil
	},
}

var notificationsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete notifications past the retention window or row cap",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		n, err := s.PruneNotifications(cmd.Context(), time.Duration(notificationsPruneDays)*24*time.Hour, notificationsPruneCap)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d notifications\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd, notificationsGetCmd, notificationsPruneCmd)

	notificationsListCmd.Flags().StringVar(&notificationsListSource, "source", "", "filter by source (webhook|cron|heartbeat)")
	notificationsListCmd.Flags().IntVarP(&notificationsListLimit, "limit", "n", 20, "maximum rows to show")

	notificationsPruneCmd.Flags().IntVar(&notificationsPruneDays, "retention-days", 30, "delete notifications received before this many days ago")
	notificationsPruneCmd.Flags().IntVar(&notificationsPruneCap, "max-rows", 5000, "cap the table at this many rows, oldest first")
}
