package bridge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"imessage-codex-bridge/internal/config"
	"imessage-codex-bridge/internal/store"
)

func newTestBridgeStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// storeOnlyBridge builds a Bridge whose commands under test never touch
// the agent session manager or the messaging provider.
func storeOnlyBridge(t *testing.T) *Bridge {
	st := newTestBridgeStore(t)
	return &Bridge{
		log:   discardLogger(),
		cfg:   &config.Config{TrustedUser: "+15550001111"},
		store: st,
	}
}

func TestCmdPause_SetsPausedAndDisablesAutoApprove(t *testing.T) {
	b := storeOnlyBridge(t)
	reply, err := b.cmdPause(context.Background())
	require.NoError(t, err)
	require.Contains(t, reply, "Paused")
	require.True(t, b.flagBool(context.Background(), store.FlagPaused))
	require.False(t, b.flagBool(context.Background(), store.FlagAutoApprove))
}

func TestCmdResume_ClearsPausedAndEnablesAutoApprove(t *testing.T) {
	b := storeOnlyBridge(t)
	ctx := context.Background()
	_, err := b.cmdPause(ctx)
	require.NoError(t, err)

	reply, err := b.cmdResume(ctx)
	require.NoError(t, err)
	require.Contains(t, reply, "Resumed")
	require.False(t, b.flagBool(ctx, store.FlagPaused))
	require.True(t, b.flagBool(ctx, store.FlagAutoApprove))
}

func TestCmdNotifications_RejectsOutOfRangeCount(t *testing.T) {
	b := storeOnlyBridge(t)
	reply, err := b.cmdNotifications(context.Background(), []string{"0"})
	require.NoError(t, err)
	require.Contains(t, reply, "usage")
}

func TestCmdNotifications_ListsIngestedNotifications(t *testing.T) {
	b := storeOnlyBridge(t)
	ctx := context.Background()
	_, _, err := b.store.AppendNotification(ctx, &store.Notification{
		ID:        "n1",
		Source:    store.SourceWebhook,
		DedupeKey: "k1",
		Status:    store.NotificationQueued,
		Summary:   "build failed",
	})
	require.NoError(t, err)

	reply, err := b.cmdNotifications(ctx, nil)
	require.NoError(t, err)
	require.Contains(t, reply, "build failed")
}

func TestCmdNotifications_FiltersBySource(t *testing.T) {
	b := storeOnlyBridge(t)
	ctx := context.Background()
	_, _, err := b.store.AppendNotification(ctx, &store.Notification{
		ID: "n1", Source: store.SourceWebhook, DedupeKey: "k1", Status: store.NotificationQueued, Summary: "web event",
	})
	require.NoError(t, err)
	_, _, err = b.store.AppendNotification(ctx, &store.Notification{
		ID: "n2", Source: store.SourceCron, DedupeKey: "k2", Status: store.NotificationQueued, Summary: "cron event",
	})
	require.NoError(t, err)

	reply, err := b.cmdNotifications(ctx, []string{"20", "cron"})
	require.NoError(t, err)
	require.Contains(t, reply, "cron event")
	require.NotContains(t, reply, "web event")
}

func TestCmdDebug_ReportsNoEventsWhenTimelineEmpty(t *testing.T) {
	b := storeOnlyBridge(t)
	reply, err := b.cmdDebug(context.Background())
	require.NoError(t, err)
	require.Equal(t, "No turn events recorded.", reply)
}

func TestDispatchCommand_UnknownCommandRepliesWithHelp(t *testing.T) {
	b := storeOnlyBridge(t)
	reply, err := b.dispatchCommand(context.Background(), "/nope", nil)
	require.NoError(t, err)
	require.Contains(t, reply, "Unknown command")
}

func TestDispatchCommand_HelpListsCommands(t *testing.T) {
	b := storeOnlyBridge(t)
	reply, err := b.dispatchCommand(context.Background(), "/help", nil)
	require.NoError(t, err)
	require.Contains(t, reply, "/pause")
}

func TestIsCommand(t *testing.T) {
	require.True(t, isCommand("/help"))
	require.True(t, isCommand("  /status"))
	require.False(t, isCommand("hello"))
}
