package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"imessage-codex-bridge/internal/store"
)

// Decision is the strict JSON envelope a notification-mode turn's final
// assistant text must parse into (spec §4.3.3, §4.4.3).
type Decision struct {
	Delivery   string  `json:"delivery"`
	Message    *string `json:"message"`
	ReasonCode *string `json:"reasonCode"`
}

// ParseDecision unmarshals text as a strict Decision envelope, rejecting
// anything whose delivery field isn't send|suppress.
func ParseDecision(text string) (*Decision, error) {
	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return nil, fmt.Errorf("notify: invalid decision JSON: %w", err)
	}
	if d.Delivery != "send" && d.Delivery != "suppress" {
		return nil, fmt.Errorf("notify: decision delivery %q is not send|suppress", d.Delivery)
	}
	return &d, nil
}

func fallbackText(source store.NotificationSource, summary string) string {
	return fmt.Sprintf("Notification (%s): %s", source, summary)
}

// CompleteDecisionTurn implements spec §4.4.3's state machine for a
// finished notification-mode turn. attempt is 1 on the turn's first try
// and 2 on the retry. retry=true tells the caller (C6) to restart the
// decision turn with attempt=2; dispatch, when non-empty, is the text C6
// should send to the user.
func (p *Pipeline) CompleteDecisionTurn(ctx context.Context, n *store.Notification, attempt int, turnStatus, finalText, threadID, turnID string) (retry bool, dispatch string, err error) {
	if turnStatus != "completed" {
		if err := p.store.RecordNotificationFailure(ctx, n.ID, fmt.Sprintf("turn %s", turnStatus), store.NotificationFailed); err != nil {
			return false, "", err
		}
		p.audit(ctx, store.AuditNotificationFailed, "notification turn "+turnStatus, map[string]string{"id": n.ID})
		return false, "", nil
	}

	decision, parseErr := ParseDecision(finalText)
	if parseErr != nil {
		if attempt < 2 {
			return true, "", nil
		}
		raw := fallbackText(n.Source, n.Summary)
		if err := p.store.RecordNotificationFailure(ctx, n.ID, "invalid decision JSON after retry: "+parseErr.Error(), store.NotificationFailed); err != nil {
			return false, "", err
		}
		p.audit(ctx, store.AuditNotificationFailed, "notification decision invalid twice, raw fallback dispatched", map[string]string{"id": n.ID})
		return false, raw, nil
	}

	reasonCode := ""
	if decision.ReasonCode != nil {
		reasonCode = *decision.ReasonCode
	}
	message := ""
	if decision.Message != nil {
		message = *decision.Message
	}

	if decision.Delivery == "suppress" {
		decisionJSON, _ := json.Marshal(decision)
		if err := p.store.RecordNotificationDecision(ctx, n.ID, decision.Delivery, reasonCode, "", string(decisionJSON), threadID, turnID, store.NotificationSuppressed); err != nil {
			return false, "", err
		}
		p.audit(ctx, store.AuditNotificationDecision, "notification suppressed: "+reasonCode, map[string]string{"id": n.ID})
		return false, "", nil
	}

	dispatchText := message
	if dispatchText == "" {
		dispatchText = fallbackText(n.Source, n.Summary)
	}
	decisionJSON, _ := json.Marshal(decision)
	if err := p.store.RecordNotificationDecision(ctx, n.ID, decision.Delivery, reasonCode, dispatchText, string(decisionJSON), threadID, turnID, store.NotificationSent); err != nil {
		return false, "", err
	}
	p.audit(ctx, store.AuditNotificationDecision, "notification dispatched", map[string]string{"id": n.ID})
	return false, dispatchText, nil
}
