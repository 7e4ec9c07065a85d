package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"imessage-codex-bridge/internal/store"
)

// dispatchPendingRestartNotice implements spec §4.6.8: on startup, if a
// prior process persisted a pending-restart flag before exiting, consume
// it and tell the user the bridge is back.
func (b *Bridge) dispatchPendingRestartNotice(ctx context.Context) error {
	raw, ok, err := b.store.ConsumeFlag(ctx, store.FlagPendingBridgeRestart)
	if err != nil {
		return fmt.Errorf("bridge: failed to consume restart flag: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}
	var notice store.PendingBridgeRestartNotice
	if err := json.Unmarshal([]byte(raw), &notice); err != nil {
		b.log.Warn("bridge: discarding malformed pending restart notice", "error", err)
		return nil
	}
	b.sendText("Bridge restarted. Back online.")
	b.audit(ctx, store.AuditSystem, "dispatched pending restart notice", notice)
	return nil
}

// requestRestart handles `/restart bridge|both` (spec §6): it tells the
// user a restart is coming, persists a notice for the next process to
// pick up, and flags the current run loop to exit with the sentinel
// restart status once the poll iteration finishes.
func (b *Bridge) requestRestart(ctx context.Context, target string) error {
	b.sendText("Restarting bridge now...")
	notice := store.PendingBridgeRestartNotice{Target: target, RequestedAt: time.Now().UnixMilli()}
	if err := b.store.SetFlagJSON(ctx, store.FlagPendingBridgeRestart, notice); err != nil {
		return fmt.Errorf("bridge: failed to persist restart notice: %w", err)
	}
	if target == "codex" || target == "both" {
		if _, err := b.session.RestartCodex(ctx); err != nil {
			b.log.Warn("bridge: failed to restart agent session", "error", err)
		}
	}
	if target == "bridge" || target == "both" {
		b.mu.Lock()
		b.restartRequested = true
		b.mu.Unlock()
	}
	return nil
}
