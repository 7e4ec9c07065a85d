package agentsession

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"imessage-codex-bridge/internal/store"
)

// TurnResult is what startOrSteerTurn/startNotificationTurn return (spec
// §4.3.2, §4.3.3).
type TurnResult struct {
	Mode     string // "steer" | "start"
	TurnID   string
	ThreadID string
}

func textInput(text string) []map[string]any {
	return []map[string]any{
		{"type": "text", "text": text, "text_elements": []any{}},
	}
}

// StartOrSteerTurn implements spec §4.3.2. Callers (C6) are responsible
// for rejecting the call before it reaches here if the `paused` flag is
// set (spec §7).
func (m *Manager) StartOrSteerTurn(ctx context.Context, text string) (*TurnResult, error) {
	threadID, err := m.ensureThread(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	steerSupported := m.supportsTurnSteer
	m.mu.Unlock()

	if sess.ActiveTurnID != "" && steerSupported {
		res, steerErr := m.transport.Request(ctx, "turn/steer", map[string]any{
			"threadId":       threadID,
			"expectedTurnId": sess.ActiveTurnID,
			"input":          textInput(text),
		}, defaultRequestTimeout)

		switch {
		case steerErr == nil:
			_ = res
			m.audit(ctx, store.AuditTurnSteer, "steered active turn", map[string]string{"turnId": sess.ActiveTurnID})
			return &TurnResult{Mode: "steer", TurnID: sess.ActiveTurnID, ThreadID: threadID}, nil
		case isUnknownVariant(steerErr):
			m.mu.Lock()
			m.supportsTurnSteer = false
			m.mu.Unlock()
			return nil, fmt.Errorf("agentsession: this agent version does not support turn steering: %w", steerErr)
		case isThreadNotFound(steerErr):
			m.mu.Lock()
			m.attached = false
			m.mu.Unlock()
			threadID, err = m.ensureThread(ctx)
			if err != nil {
				return nil, err
			}
			// fall through to the start path below.
		default:
			if err := m.store.ClearActiveTurn(ctx, m.phoneNumber); err != nil {
				return nil, err
			}
			// fall through to the start path below.
		}
	}

	return m.startUserTurn(ctx, threadID, text)
}

func (m *Manager) startUserTurn(ctx context.Context, threadID, text string) (*TurnResult, error) {
	autoApprove := m.flagBool(ctx, store.FlagAutoApprove)
	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return nil, err
	}
	model := sess.Model
	if model == "" {
		model = m.defaultModel
	}
	effort := m.effortFor(ctx, model)

	params := map[string]any{
		"threadId":       threadID,
		"input":          textInput(text),
		"model":          model,
		"effort":         effort,
		"approvalPolicy": approvalPolicyFor(autoApprove),
		"sandboxPolicy":  "workspace-write",
		"cwd":            m.agentWorkDir,
	}

	res, err := m.requestWithSparkFallback(ctx, "turn/start", params, defaultRequestTimeout, "turn/start")
	if isThreadNotFound(err) {
		m.mu.Lock()
		m.attached = false
		m.mu.Unlock()
		threadID, err = m.ensureThread(ctx)
		if err != nil {
			return nil, err
		}
		params["threadId"] = threadID
		res, err = m.requestWithSparkFallback(ctx, "turn/start", params, defaultRequestTimeout, "turn/start")
	}
	if err != nil {
		return nil, err
	}

	var parsed struct {
		TurnID string `json:"turnId"`
	}
	if err := json.Unmarshal(res, &parsed); err != nil {
		return nil, fmt.Errorf("agentsession: malformed turn/start result: %w", err)
	}

	if err := m.store.SetActiveTurn(ctx, m.phoneNumber, parsed.TurnID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.currentTurnMode = "user"
	m.mu.Unlock()
	m.audit(ctx, store.AuditTurnStart, "started user turn", map[string]string{"turnId": parsed.TurnID})

	return &TurnResult{Mode: "start", TurnID: parsed.TurnID, ThreadID: threadID}, nil
}

// NotificationDecisionSchema is the strict output schema a notification
// turn instructs the agent to emit (spec §4.3.3, §4.4.3).
var NotificationDecisionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"delivery":   map[string]any{"type": "string", "enum": []string{"send", "suppress"}},
		"message":    map[string]any{"type": []string{"string", "null"}},
		"reasonCode": map[string]any{"type": []string{"string", "null"}},
	},
	"required":             []string{"delivery", "message", "reasonCode"},
	"additionalProperties": false,
}

// StartNotificationTurn implements spec §4.3.3: a start-path turn with
// an additional outputSchema parameter instructing the agent to emit the
// NotificationDecision envelope.
func (m *Manager) StartNotificationTurn(ctx context.Context, text string) (*TurnResult, error) {
	threadID, err := m.ensureThread(ctx)
	if err != nil {
		return nil, err
	}

	autoApprove := m.flagBool(ctx, store.FlagAutoApprove)
	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return nil, err
	}
	model := sess.Model
	if model == "" {
		model = m.defaultModel
	}
	effort := m.effortFor(ctx, model)

	params := map[string]any{
		"threadId":       threadID,
		"input":          textInput(text),
		"model":          model,
		"effort":         effort,
		"approvalPolicy": approvalPolicyFor(autoApprove),
		"sandboxPolicy":  "workspace-write",
		"cwd":            m.agentWorkDir,
		"outputSchema":   NotificationDecisionSchema,
	}

	res, err := m.requestWithSparkFallback(ctx, "turn/start", params, defaultRequestTimeout, "turn/start")
	if isThreadNotFound(err) {
		m.mu.Lock()
		m.attached = false
		m.mu.Unlock()
		threadID, err = m.ensureThread(ctx)
		if err != nil {
			return nil, err
		}
		params["threadId"] = threadID
		res, err = m.requestWithSparkFallback(ctx, "turn/start", params, defaultRequestTimeout, "turn/start")
	}
	if err != nil {
		return nil, err
	}

	var parsed struct {
		TurnID string `json:"turnId"`
	}
	if err := json.Unmarshal(res, &parsed); err != nil {
		return nil, fmt.Errorf("agentsession: malformed turn/start result: %w", err)
	}
	if err := m.store.SetActiveTurn(ctx, m.phoneNumber, parsed.TurnID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.currentTurnMode = "notification"
	m.mu.Unlock()
	m.audit(ctx, store.AuditTurnStart, "started notification turn", map[string]string{"turnId": parsed.TurnID})

	return &TurnResult{Mode: "start", TurnID: parsed.TurnID, ThreadID: threadID}, nil
}

// Interrupt issues turn/interrupt against the current (thread, turn)
// pair, or reports there is nothing to interrupt.
func (m *Manager) Interrupt(ctx context.Context) (bool, error) {
	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return false, err
	}
	if sess.ActiveTurnID == "" {
		return false, nil
	}
	_, err = m.transport.Request(ctx, "turn/interrupt", map[string]any{
		"threadId": sess.ThreadID,
		"turnId":   sess.ActiveTurnID,
	}, defaultRequestTimeout)
	if err != nil {
		return false, err
	}
	m.audit(ctx, store.AuditTurnInterrupt, "interrupted active turn", map[string]string{"turnId": sess.ActiveTurnID})
	return true, nil
}

// Compact issues thread/compact/start against the session's thread.
func (m *Manager) Compact(ctx context.Context) error {
	threadID, err := m.ensureThread(ctx)
	if err != nil {
		return err
	}
	_, err = m.transport.Request(ctx, "thread/compact/start", map[string]any{"threadId": threadID}, defaultRequestTimeout)
	return err
}

// RestartCodex implements spec §4.3.8.
func (m *Manager) RestartCodex(ctx context.Context) (string, error) {
	m.audit(ctx, store.AuditSystem, "restartCodex requested", nil)

	if err := m.transport.Stop(); err != nil {
		m.log.Warn("agentsession: error stopping transport during restartCodex", "error", err)
	}
	if err := m.transport.Start(ctx, map[string]any{"name": "imessage-codex-bridge", "version": "1"}); err != nil {
		return "", fmt.Errorf("agentsession: failed to restart agent process: %w", err)
	}

	m.mu.Lock()
	m.attached = false
	m.mu.Unlock()
	if err := m.store.ClearActiveTurn(ctx, m.phoneNumber); err != nil {
		m.log.Warn("agentsession: failed to clear active turn during restartCodex", "error", err)
	}

	threadID, err := m.ensureThread(ctx)
	if err != nil {
		m.log.Warn("agentsession: best-effort re-ensure thread after restartCodex failed", "error", err)
		m.audit(ctx, store.AuditSystem, "restartCodex completed without a thread", nil)
		return "", nil
	}
	m.audit(ctx, store.AuditSystem, "restartCodex completed", map[string]string{"threadId": threadID})
	return threadID, nil
}

func isUnknownVariant(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unknown variant") || strings.Contains(s, "unknown method")
}
