package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"imessage-codex-bridge/internal/provider"
)

const typingBackoff = 30 * time.Second

// typingState implements spec §4.6.4: send a typing indicator at most
// once per heartbeat window, back off 30s after any failure, and never
// allow two sends in flight at once.
type typingState struct {
	log       *slog.Logger
	provider  provider.Client
	number    string
	heartbeat time.Duration
	enabled   bool

	mu         sync.Mutex
	inFlight   bool
	lastSentAt time.Time
	backoffTil time.Time
}

func newTypingState(log *slog.Logger, prov provider.Client, number string, heartbeat time.Duration) *typingState {
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	return &typingState{log: log, provider: prov, number: number, heartbeat: heartbeat, enabled: true}
}

// setEnabled toggles the global typing-indicator feature flag.
func (t *typingState) setEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// maybeSend sends a typing indicator if the heartbeat, backoff, and
// in-flight guards all permit it.
func (t *typingState) maybeSend(ctx context.Context) {
	t.mu.Lock()
	now := time.Now()
	if !t.enabled || t.inFlight || now.Before(t.backoffTil) || now.Sub(t.lastSentAt) < t.heartbeat {
		t.mu.Unlock()
		return
	}
	t.inFlight = true
	t.mu.Unlock()

	err := t.provider.SendTyping(ctx, t.number)

	t.mu.Lock()
	t.inFlight = false
	if err != nil {
		t.backoffTil = time.Now().Add(typingBackoff)
		t.log.Warn("bridge: typing indicator send failed, backing off", "error", err)
	} else {
		t.lastSentAt = time.Now()
	}
	t.mu.Unlock()
}

// clear resets the heartbeat so the turn's completion doesn't linger
// into the next turn's typing cadence (spec §4.6.4: "cleared at turn
// completion").
func (t *typingState) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSentAt = time.Time{}
}
