// Package agentsession owns the JSON-RPC transport (C2) and enforces the
// session/turn state machine the spec calls the Agent Session Manager
// (C3): thread lifecycle, turn start/steer, the spark model fallback,
// model/effort controls, and translation of agent notifications into
// typed bridge events.
package agentsession

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"imessage-codex-bridge/internal/rpc"
	"imessage-codex-bridge/internal/store"
)

const defaultRequestTimeout = 120 * time.Second

// effortLevels is the closed set spec §4.3.5 allows.
var effortLevels = map[string]bool{
	"none": true, "minimal": true, "low": true, "medium": true, "high": true, "xhigh": true,
}

// Manager is the session/turn state machine described in spec §4.3.
type Manager struct {
	log   *slog.Logger
	store store.Store

	phoneNumber string // the trusted user this session belongs to

	agentBinaryPath string
	agentArgs       []string
	agentWorkDir    string
	modelPrefix     string
	defaultModel    string
	sparkModel      string

	transport transport

	mu                sync.Mutex
	attached          bool
	supportsTurnSteer bool
	currentTurnMode   string // "user" | "notification", valid while a turn is active

	hooks eventHooks

	cancelEvents context.CancelFunc
}

// Config bundles the fixed parameters a Manager needs for its lifetime.
type Config struct {
	PhoneNumber     string
	AgentBinaryPath string
	AgentArgs       []string
	AgentWorkDir    string
	ModelPrefix     string
	DefaultModel    string
	SparkModel      string
}

// New builds a Manager. The transport is constructed but not started.
func New(log *slog.Logger, st store.Store, cfg Config) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:               log,
		store:             st,
		phoneNumber:       cfg.PhoneNumber,
		agentBinaryPath:   cfg.AgentBinaryPath,
		agentArgs:         cfg.AgentArgs,
		agentWorkDir:      cfg.AgentWorkDir,
		modelPrefix:       cfg.ModelPrefix,
		defaultModel:      cfg.DefaultModel,
		sparkModel:        cfg.SparkModel,
		supportsTurnSteer: true,
		transport:         rpc.New(log, cfg.AgentBinaryPath, cfg.AgentArgs, cfg.AgentWorkDir),
	}
}

// newForTest builds a Manager around an injected fake transport, so C3's
// state machine can be exercised without spawning a real child process.
func newForTest(st store.Store, cfg Config, tr transport) *Manager {
	m := New(nil, st, cfg)
	m.transport = tr
	return m
}

// Start spawns the child process, performs the initialize handshake, and
// begins draining agent events in the background.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.transport.Start(ctx, map[string]any{"name": "imessage-codex-bridge", "version": "1"}); err != nil {
		return err
	}
	evCtx, cancel := context.WithCancel(context.Background())
	m.cancelEvents = cancel
	go m.consumeEvents(evCtx)
	return nil
}

// Stop stops the transport and the event-drain goroutine.
func (m *Manager) Stop() error {
	if m.cancelEvents != nil {
		m.cancelEvents()
	}
	return m.transport.Stop()
}

func (m *Manager) audit(ctx context.Context, kind, summary string, payload any) {
	data, _ := json.Marshal(payload)
	sess, _ := m.store.GetSession(ctx, m.phoneNumber)
	ev := &store.AuditEvent{
		Timestamp:   time.Now(),
		PhoneNumber: m.phoneNumber,
		Kind:        kind,
		Summary:     summary,
		PayloadJSON: string(data),
	}
	if sess != nil {
		ev.ThreadID = sess.ThreadID
		ev.TurnID = sess.ActiveTurnID
	}
	if err := m.store.AppendAudit(ctx, ev); err != nil {
		m.log.Warn("agentsession: failed to append audit event", "kind", kind, "error", err)
	}
}

// ensureThread returns a valid thread id attached to the current child
// lifetime (spec §4.3.1).
func (m *Manager) ensureThread(ctx context.Context) (string, error) {
	m.mu.Lock()
	attached := m.attached
	m.mu.Unlock()

	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return "", err
	}

	if sess.ThreadID != "" && attached {
		return sess.ThreadID, nil
	}

	if sess.ThreadID != "" {
		res, err := m.requestWithSparkFallback(ctx, "thread/resume", map[string]any{"threadId": sess.ThreadID}, defaultRequestTimeout, "thread/resume")
		if err == nil {
			var parsed struct {
				ThreadID string `json:"threadId"`
			}
			_ = json.Unmarshal(res, &parsed)
			m.mu.Lock()
			m.attached = true
			m.mu.Unlock()
			m.audit(ctx, store.AuditSystem, "thread resumed", map[string]string{"threadId": sess.ThreadID})
			return sess.ThreadID, nil
		}
		if isThreadNotFound(err) {
			if err := m.store.SetSessionThread(ctx, m.phoneNumber, ""); err != nil {
				return "", err
			}
			// fall through to thread/start below.
		} else {
			return "", err
		}
	}

	return m.startNewThread(ctx)
}

// EnsureThread is the exported form of ensureThread, for callers (C6's
// /thread and /reset commands) that need a live thread without starting
// a turn.
func (m *Manager) EnsureThread(ctx context.Context) (string, error) {
	return m.ensureThread(ctx)
}

func (m *Manager) startNewThread(ctx context.Context) (string, error) {
	sess, err := m.store.GetSession(ctx, m.phoneNumber)
	if err != nil {
		return "", err
	}
	model := sess.Model
	if model == "" {
		model = m.defaultModel
	}
	autoApprove := m.flagBool(ctx, store.FlagAutoApprove)

	params := map[string]any{
		"model":           model,
		"cwd":             m.agentWorkDir,
		"approvalPolicy":  approvalPolicyFor(autoApprove),
		"sandboxMode":     "workspace-write",
		"tools":           m.toolSchemasForParams(),
		"experimentalFlags": map[string]any{},
	}

	res, err := m.startThreadWithRetry(ctx, params)
	if err != nil {
		return "", err
	}

	var parsed struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(res, &parsed); err != nil {
		return "", fmt.Errorf("agentsession: malformed thread/start result: %w", err)
	}
	if err := m.store.SetSessionThread(ctx, m.phoneNumber, parsed.ThreadID); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.attached = true
	m.mu.Unlock()
	m.audit(ctx, store.AuditSystem, "thread started", map[string]string{"threadId": parsed.ThreadID})
	return parsed.ThreadID, nil
}

// startThreadWithRetry implements spec §4.3.1 step 4: a thread/start
// timeout triggers a one-shot child restart and a single retry, layered
// under the spark-fallback retry of step 5.
func (m *Manager) startThreadWithRetry(ctx context.Context, params map[string]any) (res []byte, err error) {
	res, err = m.requestWithSparkFallback(ctx, "thread/start", params, defaultRequestTimeout, "thread/start")
	if err == nil {
		return res, nil
	}
	if !isTimeoutError(err) {
		return nil, err
	}

	m.log.Warn("agentsession: thread/start timed out, restarting child once", "error", err)
	if stopErr := m.transport.Stop(); stopErr != nil {
		m.log.Warn("agentsession: failed to stop transport before restart", "error", stopErr)
	}
	if startErr := m.transport.Start(ctx, map[string]any{"name": "imessage-codex-bridge", "version": "1"}); startErr != nil {
		return nil, fmt.Errorf("agentsession: restart after thread/start timeout failed: %w", startErr)
	}
	m.mu.Lock()
	m.attached = false
	m.mu.Unlock()

	return m.requestWithSparkFallback(ctx, "thread/start", params, defaultRequestTimeout, "thread/start")
}

// requestWithSparkFallback issues a request, and on a spark-inaccessible
// error while the session model is SPARK, performs the fallback (spec
// §4.3.4) and retries the same call exactly once.
func (m *Manager) requestWithSparkFallback(ctx context.Context, method string, params any, timeout time.Duration, operation string) ([]byte, error) {
	res, err := m.transport.Request(ctx, method, params, timeout)
	if err == nil {
		return res, nil
	}

	sess, sessErr := m.store.GetSession(ctx, m.phoneNumber)
	if sessErr == nil && sess.Model == m.sparkModel && isSparkUnavailable(err.Error(), m.sparkModel) {
		if fbErr := m.fallbackFromSpark(ctx, operation, err.Error()); fbErr != nil {
			return nil, fbErr
		}
		// The model changed; if params carries a "model" field, refresh it.
		if p, ok := params.(map[string]any); ok {
			p["model"] = m.defaultModel
		}
		return m.transport.Request(ctx, method, params, timeout)
	}
	return nil, err
}

func (m *Manager) fallbackFromSpark(ctx context.Context, operation, reason string) error {
	if err := m.store.SetSessionModel(ctx, m.phoneNumber, m.defaultModel); err != nil {
		return err
	}
	toEffort := m.effortFor(ctx, m.defaultModel)
	ev := ModelFallbackEvent{
		FromModel: m.sparkModel,
		ToModel:   m.defaultModel,
		ToEffort:  toEffort,
		Operation: operation,
		Reason:    reason,
	}
	m.fireModelFallback(ev)
	m.audit(ctx, store.AuditModelFallback, "spark model unavailable, falling back to standard", ev)
	return nil
}

func approvalPolicyFor(autoApprove bool) string {
	if autoApprove {
		return "never"
	}
	return "on-request"
}

func (m *Manager) flagBool(ctx context.Context, key string) bool {
	v, ok, err := m.store.GetFlag(ctx, key)
	if err != nil || !ok {
		return false
	}
	return v == "true"
}

// isThreadNotFound recognizes the "thread not found" RPC sentinel (spec §7).
func isThreadNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "thread not found")
}

func isTimeoutError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "timed out")
}

// isSparkUnavailable implements the heuristic predicate of spec §4.3.4.
// The agent's exact error-string surface for spark inaccessibility is not
// documented (spec §9 open question); this must remain maintainable as a
// small keyword list rather than a brittle exact match.
func isSparkUnavailable(msg, sparkModel string) bool {
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, strings.ToLower(sparkModel)) {
		return false
	}
	for _, phrase := range []string{
		"not available", "not permitted", "not enabled", "insufficient",
		"permission", "access denied", "unauthorized", "forbidden", "pro",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
