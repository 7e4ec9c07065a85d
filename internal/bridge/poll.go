package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"imessage-codex-bridge/internal/config"
	"imessage-codex-bridge/internal/provider"
	"imessage-codex-bridge/internal/store"
)

// pollOnce implements the body of spec §4.6.2's poll loop: fetch
// messages, route trusted-user ones to commands or turns, then consider
// starting a notification decision turn if none is active.
func (b *Bridge) pollOnce(ctx context.Context) {
	msgs, err := b.provider.FetchMessages(ctx, 100)
	if err != nil {
		b.errSup.report(b.log, "fetch:"+err.Error(), err)
		return
	}

	sort.Slice(msgs, func(i, j int) bool {
		ti, oki := provider.BestTimestamp(msgs[i])
		tj, okj := provider.BestTimestamp(msgs[j])
		if !oki || !okj {
			return false
		}
		return ti.Before(tj)
	})

	for _, m := range msgs {
		b.routeMessage(ctx, m)
	}

	b.maybeStartNotificationTurn(ctx)

	if n, err := b.notify.MaybePrune(ctx, b.cfg.RetentionDays, b.cfg.MaxNotificationRows); err != nil {
		b.log.Warn("bridge: notification prune failed", "error", err)
	} else if n > 0 {
		b.log.Info("bridge: pruned notifications", "count", n)
	}
}

func (b *Bridge) routeMessage(ctx context.Context, m provider.Message) {
	if m.IsOutbound {
		return
	}
	if config.NormalizePhoneNumber(m.FromNumberString()) != b.cfg.TrustedUser {
		return
	}
	if m.MessageHandle == "" {
		return
	}

	inserted, err := b.store.MarkProcessed(ctx, m.MessageHandle)
	if err != nil {
		b.log.Error("bridge: failed to mark message processed", "error", err)
		return
	}
	if !inserted {
		return
	}

	b.audit(ctx, store.AuditInboundMessage, "inbound message received", m.MessageHandle)

	if b.readReceiptsEnabled() {
		if err := b.provider.MarkRead(ctx, b.cfg.TrustedUser, m.MessageHandle); err != nil {
			b.log.Warn("bridge: mark-read failed", "error", err)
		}
	}

	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}

	if isCommand(text) {
		b.audit(ctx, store.AuditCommand, text, nil)
		b.handleCommand(ctx, text)
		return
	}

	if b.flagBool(ctx, store.FlagPaused) {
		b.sendText("Bridge is paused. Send /resume to continue.")
		return
	}

	if _, err := b.session.StartOrSteerTurn(ctx, text); err != nil {
		b.log.Error("bridge: failed to start or steer turn", "error", err)
		b.sendText(fmt.Sprintf("Turn failed: %s", err))
	}
}

// maybeStartNotificationTurn enforces the at-most-one-in-flight-turn
// rule (spec §4.4.3, §4.6.2): only claim a queued notification when no
// user turn and no notification turn are already active.
func (b *Bridge) maybeStartNotificationTurn(ctx context.Context) {
	b.mu.Lock()
	hasPending := b.pendingNotification != nil
	b.mu.Unlock()
	if hasPending {
		return
	}

	sess, err := b.store.GetSession(ctx, b.cfg.TrustedUser)
	if err != nil {
		b.log.Warn("bridge: failed to load session for notification scheduling", "error", err)
		return
	}
	if sess.ActiveTurnID != "" {
		return
	}

	n, err := b.notify.ClaimNext(ctx)
	if err != nil {
		b.log.Warn("bridge: failed to claim next notification", "error", err)
		return
	}
	if n == nil {
		return
	}

	b.mu.Lock()
	b.pendingNotification = n
	b.pendingNotificationAttempt = 1
	b.pendingNotificationText = ""
	b.mu.Unlock()

	if _, err := b.session.StartNotificationTurn(ctx, notificationPrompt(n)); err != nil {
		b.log.Error("bridge: failed to start notification decision turn", "error", err, "notificationId", n.ID)
		b.clearPendingNotification()
	}
}
