package bridge

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"imessage-codex-bridge/internal/agentsession"
	"imessage-codex-bridge/internal/store"
)

// assistantRelay deduplicates assistantFinal items against the most
// recent N item ids seen (spec §4.6.5). Streaming deltas are never
// relayed.
type assistantRelay struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	seen  map[string]*list.Element
}

func newAssistantRelay(capacity int) *assistantRelay {
	return &assistantRelay{cap: capacity, order: list.New(), seen: map[string]*list.Element{}}
}

// admit reports whether itemID is new; it records it either way, but
// only new ids should be relayed.
func (r *assistantRelay) admit(itemID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[itemID]; ok {
		return false
	}
	el := r.order.PushBack(itemID)
	r.seen[itemID] = el
	if r.order.Len() > r.cap {
		oldest := r.order.Front()
		r.order.Remove(oldest)
		delete(r.seen, oldest.Value.(string))
	}
	return true
}

// registerHooks wires the session manager's typed event callbacks into
// the bridge's outbound relay, typing indicator, and notification
// decision-turn handling (spec §9).
func (b *Bridge) registerHooks() {
	b.session.OnAssistantDelta(func(ev agentsession.AssistantDeltaEvent) {
		if ev.Mode == "user" {
			b.typing.maybeSend(context.Background())
		}
	})

	b.session.OnAssistantFinal(func(ev agentsession.AssistantFinalEvent) {
		if ev.Mode == "notification" {
			b.mu.Lock()
			b.pendingNotificationText = ev.Text
			b.mu.Unlock()
			return
		}
		if !b.relay.admit(ev.ItemID) {
			return
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		b.sendText(text)
	})

	b.session.OnTurnCompleted(func(ev agentsession.TurnCompletedEvent) {
		b.typing.clear()
		if ev.Mode == "notification" {
			b.completeNotificationTurn(context.Background(), ev.Status)
		}
	})

	b.session.OnApprovalDeclined(func(ev agentsession.ApprovalDeclinedEvent) {
		b.sendText("Approval request declined by policy: " + ev.Method)
	})

	b.session.OnModelFallback(func(ev agentsession.ModelFallbackEvent) {
		b.log.Info("bridge: model fallback", "from", ev.FromModel, "to", ev.ToModel, "effort", ev.ToEffort, "operation", ev.Operation)
	})
}

// completeNotificationTurn implements the C4/C3 handoff of spec §4.4.3
// once a notification-mode turn reaches a terminal state.
func (b *Bridge) completeNotificationTurn(ctx context.Context, status string) {
	b.mu.Lock()
	n := b.pendingNotification
	attempt := b.pendingNotificationAttempt
	text := b.pendingNotificationText
	b.mu.Unlock()
	if n == nil {
		return
	}

	retry, dispatch, err := b.notify.CompleteDecisionTurn(ctx, n, attempt, status, text, "", "")
	if err != nil {
		b.log.Error("bridge: failed to complete notification decision turn", "error", err, "notificationId", n.ID)
		b.clearPendingNotification()
		return
	}

	if retry {
		b.mu.Lock()
		b.pendingNotificationAttempt = 2
		b.pendingNotificationText = ""
		b.mu.Unlock()
		if _, err := b.session.StartNotificationTurn(ctx, notificationPrompt(n)); err != nil {
			b.log.Error("bridge: failed to restart notification decision turn", "error", err, "notificationId", n.ID)
			b.clearPendingNotification()
		}
		return
	}

	if dispatch != "" {
		b.sendText(dispatch)
	}
	b.clearPendingNotification()
}

func (b *Bridge) clearPendingNotification() {
	b.mu.Lock()
	b.pendingNotification = nil
	b.pendingNotificationAttempt = 0
	b.pendingNotificationText = ""
	b.mu.Unlock()
}

func notificationPrompt(n *store.Notification) string {
	return "You are evaluating whether to notify the user about this event.\n" +
		"Source: " + string(n.Source) + "\n" +
		"Summary: " + n.Summary + "\n" +
		"Raw: " + string(n.RawExcerpt) + "\n\n" +
		"Respond only with the decision JSON."
}
