package agentsession

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"imessage-codex-bridge/internal/rpc"
	"imessage-codex-bridge/internal/store"
)

// fakeTransport is a programmable stand-in for *rpc.Transport, grounded
// in the teacher's preference for hand-rolled interface fakes over a
// mocking framework (see internal/mcp's mockStore).
type fakeTransport struct {
	mu sync.Mutex

	handlers map[string]func(params any) (json.RawMessage, error)
	calls    []string

	events chan rpc.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: map[string]func(params any) (json.RawMessage, error){},
		events:   make(chan rpc.Event, 64),
	}
}

func (f *fakeTransport) on(method string, handler func(params any) (json.RawMessage, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = handler
}

func (f *fakeTransport) Start(ctx context.Context, clientInfo map[string]any) error { return nil }
func (f *fakeTransport) Stop() error                                               { return nil }

func (f *fakeTransport) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	handler, ok := f.handlers[method]
	f.mu.Unlock()
	if !ok {
		return json.RawMessage(`{}`), nil
	}
	return handler(params)
}

func (f *fakeTransport) Notify(method string, params any) error                     { return nil }
func (f *fakeTransport) Respond(id int64, result any) error                         { return nil }
func (f *fakeTransport) RespondError(id int64, code int, message string, data any) error {
	return nil
}
func (f *fakeTransport) Subscribe() <-chan rpc.Event { return f.events }

func (f *fakeTransport) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func jsonResult(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newTestManager(t *testing.T, tr *fakeTransport) (*Manager, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{
		PhoneNumber:     "+15550001111",
		AgentBinaryPath: "/usr/local/bin/fake-agent",
		AgentWorkDir:    "/tmp/work",
		ModelPrefix:     "gpt-5",
		DefaultModel:    "gpt-5-codex",
		SparkModel:      "gpt-5.3-codex-spark",
	}
	m := newForTest(st, cfg, tr)
	return m, st
}

// Seed scenario 1: user text, fresh thread.
func TestStartOrSteerTurn_FreshThread(t *testing.T) {
	tr := newFakeTransport()
	tr.on("thread/start", func(params any) (json.RawMessage, error) {
		return jsonResult(t, map[string]string{"threadId": "th-1"}), nil
	})
	tr.on("turn/start", func(params any) (json.RawMessage, error) {
		p := params.(map[string]any)
		require.Equal(t, "th-1", p["threadId"])
		require.Equal(t, "medium", p["effort"])
		input := p["input"].([]map[string]any)
		require.Equal(t, "hello", input[0]["text"])
		return jsonResult(t, map[string]string{"turnId": "turn_1"}), nil
	})

	m, st := newTestManager(t, tr)
	res, err := m.StartOrSteerTurn(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "start", res.Mode)
	require.Equal(t, "turn_1", res.TurnID)
	require.Equal(t, 1, tr.callCount("thread/start"))
	require.Equal(t, 1, tr.callCount("turn/start"))

	sess, err := st.GetSession(context.Background(), "+15550001111")
	require.NoError(t, err)
	require.Equal(t, "turn_1", sess.ActiveTurnID)
	require.Equal(t, "th-1", sess.ThreadID)
}

// Seed scenario 2: steer while active.
func TestStartOrSteerTurn_SteersActiveTurn(t *testing.T) {
	tr := newFakeTransport()
	tr.on("turn/steer", func(params any) (json.RawMessage, error) {
		p := params.(map[string]any)
		require.Equal(t, "turn_1", p["expectedTurnId"])
		return jsonResult(t, map[string]any{}), nil
	})

	m, st := newTestManager(t, tr)
	ctx := context.Background()
	require.NoError(t, st.SetSessionThread(ctx, "+15550001111", "th-1"))
	require.NoError(t, st.SetActiveTurn(ctx, "+15550001111", "turn_1"))
	m.mu.Lock()
	m.attached = true
	m.mu.Unlock()

	res, err := m.StartOrSteerTurn(ctx, "also include README")
	require.NoError(t, err)
	require.Equal(t, "steer", res.Mode)
	require.Equal(t, "turn_1", res.TurnID)
	require.Equal(t, 0, tr.callCount("turn/start"))
}

// Seed scenario 4: spark unavailable triggers fallback and a single retry.
func TestStartOrSteerTurn_SparkFallback(t *testing.T) {
	tr := newFakeTransport()
	attempt := 0
	tr.on("turn/start", func(params any) (json.RawMessage, error) {
		attempt++
		p := params.(map[string]any)
		if attempt == 1 {
			require.Equal(t, "gpt-5.3-codex-spark", p["model"])
			return nil, &rpc.Error{Code: -32000, Message: "model gpt-5.3-codex-spark is not available for this account"}
		}
		require.Equal(t, "gpt-5-codex", p["model"])
		return jsonResult(t, map[string]string{"turnId": "turn_2"}), nil
	})

	m, st := newTestManager(t, tr)
	ctx := context.Background()
	require.NoError(t, st.SetSessionThread(ctx, "+15550001111", "th-1"))
	m.mu.Lock()
	m.attached = true
	m.mu.Unlock()
	require.NoError(t, st.SetSessionModel(ctx, "+15550001111", "gpt-5.3-codex-spark"))

	var fallback *ModelFallbackEvent
	m.OnModelFallback(func(ev ModelFallbackEvent) { fallback = &ev })

	res, err := m.StartOrSteerTurn(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, "turn_2", res.TurnID)
	require.Equal(t, 2, attempt)

	require.NotNil(t, fallback)
	require.Equal(t, "gpt-5.3-codex-spark", fallback.FromModel)
	require.Equal(t, "gpt-5-codex", fallback.ToModel)

	sess, err := st.GetSession(ctx, "+15550001111")
	require.NoError(t, err)
	require.Equal(t, "gpt-5-codex", sess.Model)
}

func TestSetModel_EnforcesPrefix(t *testing.T) {
	m, _ := newTestManager(t, newFakeTransport())
	_, err := m.SetModel(context.Background(), "claude-3")
	require.Error(t, err)
}

func TestSetModel_ReturnsDefaultEffort(t *testing.T) {
	m, _ := newTestManager(t, newFakeTransport())
	effort, err := m.SetModel(context.Background(), "gpt-5-codex")
	require.NoError(t, err)
	require.Equal(t, "medium", effort)

	effort, err = m.SetModel(context.Background(), "gpt-5.3-codex-spark")
	require.NoError(t, err)
	require.Equal(t, "xhigh", effort)
}

func TestToggleSparkModel_RoundTrips(t *testing.T) {
	m, _ := newTestManager(t, newFakeTransport())
	ctx := context.Background()
	require.NoError(t, m.store.SetSessionModel(ctx, "+15550001111", "gpt-5-codex"))
	require.NoError(t, m.SetEffortForCurrentModel(ctx, "high"))

	model, effort, err := m.ToggleSparkModel(ctx)
	require.NoError(t, err)
	require.Equal(t, "gpt-5.3-codex-spark", model)
	require.Equal(t, "xhigh", effort)

	model, effort, err = m.ToggleSparkModel(ctx)
	require.NoError(t, err)
	require.Equal(t, "gpt-5-codex", model)
	require.Equal(t, "high", effort)
}

func TestIsSparkUnavailable(t *testing.T) {
	require.True(t, isSparkUnavailable("model gpt-5.3-codex-spark is not available for this account", "gpt-5.3-codex-spark"))
	require.True(t, isSparkUnavailable("access denied for gpt-5.3-codex-spark", "gpt-5.3-codex-spark"))
	require.False(t, isSparkUnavailable("rate limited", "gpt-5.3-codex-spark"))
	require.False(t, isSparkUnavailable("gpt-5.3-codex-spark had a syntax error", "gpt-5.3-codex-spark"))
}

func TestHandleNotification_ThreadStartedPersists(t *testing.T) {
	m, st := newTestManager(t, newFakeTransport())
	ctx := context.Background()
	params, _ := json.Marshal(map[string]string{"threadId": "th-99"})
	m.handleNotification(ctx, rpc.Event{Method: "thread/started", Params: params})

	sess, err := st.GetSession(ctx, "+15550001111")
	require.NoError(t, err)
	require.Equal(t, "th-99", sess.ThreadID)
}

func TestHandleNotification_DropsEventsForStaleThread(t *testing.T) {
	m, st := newTestManager(t, newFakeTransport())
	ctx := context.Background()
	require.NoError(t, st.SetSessionThread(ctx, "+15550001111", "th-current"))

	var fired bool
	m.OnTurnStarted(func(TurnStartedEvent) { fired = true })

	params, _ := json.Marshal(map[string]string{"threadId": "th-stale", "turnId": "turn_x"})
	m.handleNotification(ctx, rpc.Event{Method: "turn/started", Params: params})

	require.False(t, fired)
}

func TestHandleNotification_TurnCompletedClearsActiveTurn(t *testing.T) {
	m, st := newTestManager(t, newFakeTransport())
	ctx := context.Background()
	require.NoError(t, st.SetSessionThread(ctx, "+15550001111", "th-1"))
	require.NoError(t, st.SetActiveTurn(ctx, "+15550001111", "turn_1"))

	var completed *TurnCompletedEvent
	m.OnTurnCompleted(func(ev TurnCompletedEvent) { completed = &ev })

	params, _ := json.Marshal(map[string]string{"threadId": "th-1", "turnId": "turn_1", "status": "completed"})
	m.handleNotification(ctx, rpc.Event{Method: "turn/completed", Params: params})

	sess, err := st.GetSession(ctx, "+15550001111")
	require.NoError(t, err)
	require.Empty(t, sess.ActiveTurnID)
	require.NotNil(t, completed)
	require.Equal(t, "completed", completed.Status)
}
