package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"imessage-codex-bridge/internal/store"
)

// isCommand reports whether text is a slash command (spec §6).
func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// handleCommand dispatches a slash command and enqueues its reply. Any
// error is logged and surfaced to the user as a plain-text reply rather
// than propagated, since a malformed command should never take down the
// poll loop.
func (b *Bridge) handleCommand(ctx context.Context, text string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	reply, err := b.dispatchCommand(ctx, name, args)
	if err != nil {
		b.log.Warn("bridge: command failed", "command", name, "error", err)
		b.sendText(fmt.Sprintf("Command failed: %s", err))
		return
	}
	if reply != "" {
		b.sendText(reply)
	}
}

func (b *Bridge) dispatchCommand(ctx context.Context, name string, args []string) (string, error) {
	switch name {
	case "/help":
		return helpText, nil
	case "/status":
		return b.cmdStatus(ctx)
	case "/stop":
		return b.cmdStop(ctx)
	case "/reset":
		return b.cmdReset(ctx)
	case "/debug":
		return b.cmdDebug(ctx)
	case "/thread":
		return b.cmdThread(ctx, args)
	case "/compact":
		return b.cmdCompact(ctx)
	case "/model":
		return b.cmdModel(ctx, args)
	case "/effort":
		return b.cmdEffort(ctx, args)
	case "/spark":
		return b.cmdSpark(ctx)
	case "/pause":
		return b.cmdPause(ctx)
	case "/resume":
		return b.cmdResume(ctx)
	case "/notifications":
		return b.cmdNotifications(ctx, args)
	case "/restart":
		return b.cmdRestart(ctx, args)
	default:
		return fmt.Sprintf("Unknown command %q. Send /help for the command list.", name), nil
	}
}

const helpText = `Commands:
/help - show this list
/status - session status
/stop - interrupt the active turn
/reset - clear the thread and start fresh
/debug - show the last turn's event timeline
/thread [new] - show or start a thread
/compact - compact the current thread
/model <id> - set the model (accepts <id>-<effort>)
/effort [level] - show or set reasoning effort
/spark - toggle the spark model
/pause / /resume - pause or resume autonomous turns
/notifications [count] [source] - recent notifications
/restart <codex|bridge|both> - restart a component`

func (b *Bridge) cmdStatus(ctx context.Context) (string, error) {
	sess, err := b.store.GetSession(ctx, b.cfg.TrustedUser)
	if err != nil {
		return "", err
	}
	paused := b.flagBool(ctx, store.FlagPaused)
	autoApprove := b.flagBool(ctx, store.FlagAutoApprove)
	_, effort, err := b.session.CurrentModelAndEffort(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"phone: %s\nthread: %s\nactive_turn: %s\nmodel: %s\neffort: %s\npaused: %t\nauto_approve: %t",
		b.cfg.TrustedUser, orNone(sess.ThreadID), orNone(sess.ActiveTurnID), orNone(sess.Model), orNone(effort), paused, autoApprove,
	), nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func (b *Bridge) flagBool(ctx context.Context, key string) bool {
	v, ok, err := b.store.GetFlag(ctx, key)
	if err != nil || !ok {
		return false
	}
	return v == "true"
}

func (b *Bridge) cmdStop(ctx context.Context) (string, error) {
	interrupted, err := b.session.Interrupt(ctx)
	if err != nil {
		return "", err
	}
	if !interrupted {
		return "Nothing to interrupt.", nil
	}
	return "Interrupted.", nil
}

func (b *Bridge) cmdReset(ctx context.Context) (string, error) {
	if err := b.store.ClearActiveTurn(ctx, b.cfg.TrustedUser); err != nil {
		return "", err
	}
	if err := b.store.SetSessionThread(ctx, b.cfg.TrustedUser, ""); err != nil {
		return "", err
	}
	threadID, err := b.session.EnsureThread(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Thread and active turn cleared. New thread: %s", threadID), nil
}

func (b *Bridge) cmdDebug(ctx context.Context) (string, error) {
	events, err := b.store.LastTurnTimeline(ctx, b.cfg.TrustedUser, 0)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "No turn events recorded.", nil
	}
	var sb strings.Builder
	for _, ev := range events {
		summary := ev.Summary
		if len(summary) > 200 {
			summary = summary[:200]
		}
		fmt.Fprintf(&sb, "%s: %s\n", ev.Kind, summary)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bridge) cmdThread(ctx context.Context, args []string) (string, error) {
	if len(args) > 0 && strings.EqualFold(args[0], "new") {
		if err := b.store.SetSessionThread(ctx, b.cfg.TrustedUser, ""); err != nil {
			return "", err
		}
	}
	threadID, err := b.session.EnsureThread(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("thread: %s", threadID), nil
}

func (b *Bridge) cmdCompact(ctx context.Context) (string, error) {
	if err := b.session.Compact(ctx); err != nil {
		return "", err
	}
	return "Compaction requested.", nil
}

func (b *Bridge) cmdModel(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "usage: /model <id> or /model <id>-<effort>", nil
	}
	id := args[0]
	if idx := strings.LastIndex(id, "-"); idx > 0 {
		model, effort := id[:idx], id[idx+1:]
		if err := b.session.SetModelWithEffort(ctx, model, effort); err == nil {
			return fmt.Sprintf("model: %s\neffort: %s", model, effort), nil
		}
	}
	effort, err := b.session.SetModel(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("model: %s\neffort: %s", id, effort), nil
}

func (b *Bridge) cmdEffort(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		_, effort, err := b.session.CurrentModelAndEffort(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("effort: %s", effort), nil
	}
	if err := b.session.SetEffortForCurrentModel(ctx, args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("effort: %s", args[0]), nil
}

func (b *Bridge) cmdSpark(ctx context.Context) (string, error) {
	model, effort, err := b.session.ToggleSparkModel(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("model: %s\neffort: %s", model, effort), nil
}

func (b *Bridge) cmdPause(ctx context.Context) (string, error) {
	if err := b.store.SetFlag(ctx, store.FlagPaused, "true"); err != nil {
		return "", err
	}
	if err := b.store.SetFlag(ctx, store.FlagAutoApprove, "false"); err != nil {
		return "", err
	}
	return "Paused. Auto-approve disabled.", nil
}

func (b *Bridge) cmdResume(ctx context.Context) (string, error) {
	if err := b.store.SetFlag(ctx, store.FlagPaused, "false"); err != nil {
		return "", err
	}
	if err := b.store.SetFlag(ctx, store.FlagAutoApprove, "true"); err != nil {
		return "", err
	}
	return "Resumed. Auto-approve enabled.", nil
}

func (b *Bridge) cmdNotifications(ctx context.Context, args []string) (string, error) {
	count := 20
	source := store.NotificationSource("")
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > 200 {
			return "usage: /notifications [count 1-200] [all|webhook|cron|heartbeat]", nil
		}
		count = n
	}
	if len(args) > 1 {
		switch strings.ToLower(args[1]) {
		case "all":
			source = ""
		case "webhook":
			source = store.SourceWebhook
		case "cron":
			source = store.SourceCron
		case "heartbeat":
			source = store.SourceHeartbeat
		default:
			return "usage: /notifications [count 1-200] [all|webhook|cron|heartbeat]", nil
		}
	}
	rows, err := b.store.ListNotifications(ctx, store.NotificationListFilter{Source: source, Limit: count})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No notifications.", nil
	}
	var sb strings.Builder
	for _, n := range rows {
		fmt.Fprintf(&sb, "%s [%s/%s] %s\n", n.ID, n.Source, n.Status, n.Summary)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bridge) cmdRestart(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "usage: /restart <codex|bridge|both>", nil
	}
	target := strings.ToLower(args[0])
	switch target {
	case "codex":
		if _, err := b.session.RestartCodex(ctx); err != nil {
			return "", err
		}
		return "Codex restarted.", nil
	case "bridge", "both":
		if err := b.requestRestart(ctx, target); err != nil {
			return "", err
		}
		return "", nil
	default:
		return "usage: /restart <codex|bridge|both>", nil
	}
}
