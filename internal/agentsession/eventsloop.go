package agentsession

import (
	"context"
	"encoding/json"

	"imessage-codex-bridge/internal/rpc"
	"imessage-codex-bridge/internal/store"
)

// consumeEvents drains the transport's event channel and translates
// agent notifications/server-requests into typed bridge events (spec
// §4.3.6, §4.3.7). It never holds m.mu while invoking a callback (spec
// §9): callbacks needing store access take their own lock via Manager's
// public methods.
func (m *Manager) consumeEvents(ctx context.Context) {
	events := m.transport.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.ID != nil {
				m.handleServerRequest(ctx, ev)
			} else {
				m.handleNotification(ctx, ev)
			}
		}
	}
}

type threadScoped struct {
	ThreadID string `json:"threadId"`
}

func (m *Manager) currentThreadID(ctx context.Context) string {
	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return ""
	}
	return sess.ThreadID
}

func (m *Manager) handleNotification(ctx context.Context, ev rpc.Event) {
	var scoped threadScoped
	_ = json.Unmarshal(ev.Params, &scoped)

	switch ev.Method {
	case "thread/started":
		if err := m.store.SetSessionThread(ctx, m.phoneNumber, scoped.ThreadID); err != nil {
			m.log.Warn("agentsession: failed to persist thread id", "error", err)
			return
		}
		m.mu.Lock()
		m.attached = true
		m.mu.Unlock()

	case "turn/started":
		// Events for a stale thread are dropped (spec §4.3.6).
		if scoped.ThreadID != "" && scoped.ThreadID != m.currentThreadID(ctx) {
			return
		}
		var params struct {
			ThreadID string `json:"threadId"`
			TurnID   string `json:"turnId"`
		}
		_ = json.Unmarshal(ev.Params, &params)
		if err := m.store.SetActiveTurn(ctx, m.phoneNumber, params.TurnID); err != nil {
			m.log.Warn("agentsession: failed to persist active turn", "error", err)
		}
		m.fireTurnStarted(TurnStartedEvent{ThreadID: params.ThreadID, TurnID: params.TurnID})

	case "turn/completed":
		if scoped.ThreadID != "" && scoped.ThreadID != m.currentThreadID(ctx) {
			return
		}
		var params struct {
			ThreadID string `json:"threadId"`
			TurnID   string `json:"turnId"`
			Status   string `json:"status"`
			Error    string `json:"error"`
		}
		_ = json.Unmarshal(ev.Params, &params)

		m.mu.Lock()
		mode := m.currentTurnMode
		m.currentTurnMode = ""
		m.mu.Unlock()

		if err := m.store.ClearActiveTurn(ctx, m.phoneNumber); err != nil {
			m.log.Warn("agentsession: failed to clear active turn", "error", err)
		}
		m.audit(ctx, store.AuditTurnComplete, "turn completed: "+params.Status, params)
		m.fireTurnCompleted(TurnCompletedEvent{
			ThreadID: params.ThreadID,
			TurnID:   params.TurnID,
			Status:   params.Status,
			Error:    params.Error,
			Mode:     mode,
		})

	case "item/agentMessage/delta":
		if scoped.ThreadID != "" && scoped.ThreadID != m.currentThreadID(ctx) {
			return
		}
		var params struct {
			ThreadID string `json:"threadId"`
			TurnID   string `json:"turnId"`
			ItemID   string `json:"itemId"`
			Delta    string `json:"delta"`
		}
		_ = json.Unmarshal(ev.Params, &params)
		m.mu.Lock()
		mode := m.currentTurnMode
		m.mu.Unlock()
		m.fireAssistantDelta(AssistantDeltaEvent{ThreadID: params.ThreadID, TurnID: params.TurnID, ItemID: params.ItemID, Delta: params.Delta, Mode: mode})

	case "item/started":
		if itemType(ev.Params) == "contextCompaction" {
			m.fireCompaction(CompactionEvent{ThreadID: scoped.ThreadID, Started: true})
		}

	case "item/completed":
		if scoped.ThreadID != "" && scoped.ThreadID != m.currentThreadID(ctx) {
			return
		}
		switch itemType(ev.Params) {
		case "contextCompaction":
			m.fireCompaction(CompactionEvent{ThreadID: scoped.ThreadID, Started: false})
		case "agentMessage":
			var params struct {
				ThreadID string `json:"threadId"`
				TurnID   string `json:"turnId"`
				ItemID   string `json:"itemId"`
				Text     string `json:"text"`
			}
			_ = json.Unmarshal(ev.Params, &params)
			m.mu.Lock()
			mode := m.currentTurnMode
			m.mu.Unlock()
			m.fireAssistantFinal(AssistantFinalEvent{ThreadID: params.ThreadID, TurnID: params.TurnID, ItemID: params.ItemID, Text: params.Text, Mode: mode})
		}
	}
}

func itemType(raw json.RawMessage) string {
	var v struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &v)
	return v.Type
}

func (m *Manager) handleServerRequest(ctx context.Context, ev rpc.Event) {
	switch ev.Method {
	case "item/commandExecution/requestApproval", "item/fileChange/requestApproval":
		m.respondApproval(ctx, ev)
	case "item/tool/call":
		m.respondToolCall(ctx, ev)
	default:
		if err := m.transport.RespondError(*ev.ID, -32601, "method not found: "+ev.Method, nil); err != nil {
			m.log.Warn("agentsession: failed to respond with method-not-found", "error", err)
		}
	}
}

func (m *Manager) respondApproval(ctx context.Context, ev rpc.Event) {
	autoApprove := m.flagBool(ctx, store.FlagAutoApprove)
	paused := m.flagBool(ctx, store.FlagPaused)
	accept := autoApprove && !paused

	m.audit(ctx, store.AuditApprovalRequest, "approval requested: "+ev.Method, ev.Params)

	decision := "decline"
	if accept {
		decision = "accept"
	}
	if err := m.transport.Respond(*ev.ID, map[string]string{"decision": decision}); err != nil {
		m.log.Warn("agentsession: failed to respond to approval request", "error", err)
		return
	}
	m.audit(ctx, store.AuditApprovalResponse, "approval response: "+decision, map[string]string{"decision": decision})

	if !accept {
		m.fireApprovalDeclined(ApprovalDeclinedEvent{ThreadID: m.currentThreadID(ctx), Method: ev.Method})
	}
}

func (m *Manager) respondToolCall(ctx context.Context, ev rpc.Event) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(ev.Params, &params); err != nil {
		if respErr := m.transport.RespondError(*ev.ID, -32602, "invalid tool/call params", nil); respErr != nil {
			m.log.Warn("agentsession: failed to respond with invalid params error", "error", respErr)
		}
		return
	}

	result := m.handleToolCall(ctx, params.Name, params.Arguments)
	envelope := toolCallResponse(result)
	if err := m.transport.Respond(*ev.ID, envelope); err != nil {
		m.log.Warn("agentsession: failed to respond to tool call", "error", err, "tool", params.Name)
	}
}
