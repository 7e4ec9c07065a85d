// Package bridge is the orchestrator (C6, spec §4.6): it drives the
// poll loop against the messaging provider, routes inbound text to
// slash commands or the agent session manager, relays assistant output
// back out, and wires the notification pipeline's decision turns.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"imessage-codex-bridge/internal/agentsession"
	"imessage-codex-bridge/internal/config"
	"imessage-codex-bridge/internal/notify"
	"imessage-codex-bridge/internal/provider"
	"imessage-codex-bridge/internal/store"
)

// Bridge wires C1-C5 into the single orchestrator described in spec
// §4.6.
type Bridge struct {
	log      *slog.Logger
	cfg      *config.Config
	store    store.Store
	provider provider.Client
	session  *agentsession.Manager
	notify   *notify.Pipeline

	outbound *outboundQueue
	typing   *typingState
	relay    *assistantRelay
	errSup   *errSuppressor

	mu                         sync.Mutex
	running                    bool
	restartRequested           bool
	pendingNotification        *store.Notification
	pendingNotificationAttempt int
	pendingNotificationText    string
}

// New builds a Bridge. The session manager must already be constructed
// (but not yet started) against the same store.
func New(log *slog.Logger, cfg *config.Config, st store.Store, prov provider.Client, sess *agentsession.Manager, pipeline *notify.Pipeline) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		log:      log,
		cfg:      cfg,
		store:    st,
		provider: prov,
		session:  sess,
		notify:   pipeline,
		outbound: newOutboundQueue(log, prov, cfg.TrustedUser, cfg.OutboundStylingEnabled),
		typing:   newTypingState(log, prov, cfg.TrustedUser, time.Duration(cfg.TypingHeartbeatSeconds)*time.Second),
		relay:    newAssistantRelay(4000),
		errSup:   newErrSuppressor(),
	}
	b.registerHooks()
	return b
}

// Run implements spec §4.6.1's startup sequence and then blocks running
// the poll loop until ctx is cancelled or a restart is requested.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.session.Start(ctx); err != nil {
		return fmt.Errorf("bridge: failed to start agent session: %w", err)
	}

	b.outbound.start(ctx)

	if b.cfg.StartupBacklogDiscard {
		if err := b.discardStartupBacklog(ctx); err != nil {
			b.log.Warn("bridge: startup backlog discard failed", "error", err)
		}
	}

	if err := b.dispatchPendingRestartNotice(ctx); err != nil {
		b.log.Warn("bridge: failed to dispatch pending restart notice", "error", err)
	}

	b.mu.Lock()
	b.running = true
	b.mu.Unlock()

	ticker := time.NewTicker(time.Duration(b.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		if b.consumeRestartRequestedForLoop() {
			break
		}
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
			_ = b.session.Stop()
			return nil
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	_ = b.session.Stop()
	return nil
}

func (b *Bridge) consumeRestartRequestedForLoop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restartRequested
}

// ConsumeRestartRequested reports (and clears) whether a restart was
// requested during this process's lifetime (spec §4.6.8). The startup
// script calls this after Run returns to decide the process exit code.
func (b *Bridge) ConsumeRestartRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.restartRequested
	b.restartRequested = false
	return v
}

func (b *Bridge) discardStartupBacklog(ctx context.Context) error {
	msgs, err := b.provider.FetchMessages(ctx, 100)
	if err != nil {
		return err
	}
	var handles []string
	for _, m := range msgs {
		if config.NormalizePhoneNumber(m.FromNumberString()) != b.cfg.TrustedUser {
			continue
		}
		if m.MessageHandle == "" {
			continue
		}
		handles = append(handles, m.MessageHandle)
	}
	n, err := b.store.MarkManyProcessed(ctx, handles)
	if err != nil {
		return err
	}
	if n > 0 {
		b.audit(ctx, store.AuditSystem, fmt.Sprintf("discarded %d backlog messages at startup", n), nil)
	}
	return nil
}

func (b *Bridge) audit(ctx context.Context, kind, summary string, payload any) {
	if err := b.store.AppendAudit(ctx, &store.AuditEvent{
		Timestamp:   time.Now(),
		PhoneNumber: b.cfg.TrustedUser,
		Kind:        kind,
		Summary:     summary,
	}); err != nil {
		b.log.Warn("bridge: failed to append audit event", "kind", kind, "error", err)
	}
	_ = payload // audit payload kept minimal here; callers needing detail audit directly via store.
}

func (b *Bridge) readReceiptsEnabled() bool { return b.cfg.ReadReceiptsEnabled }

// sendText enqueues text for the outbound queue (spec §4.6.3).
func (b *Bridge) sendText(text string) {
	if text == "" {
		return
	}
	b.outbound.enqueue(text)
}
