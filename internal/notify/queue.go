package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"imessage-codex-bridge/internal/store"
)

// Pipeline wires the normalize/dedupe/claim/prune operations against a
// Store (spec §4.4.2).
type Pipeline struct {
	log   *slog.Logger
	store store.Store

	lastPrune time.Time
}

// New builds a Pipeline.
func New(log *slog.Logger, st store.Store) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{log: log, store: st}
}

// Ingest normalizes and appends payload, auditing ingestion or
// duplication (spec §4.4.2).
func (p *Pipeline) Ingest(ctx context.Context, payload any, source store.NotificationSource, sourceAccount, sourceEventID string, rawExcerptBytes int) (id string, duplicate bool, err error) {
	norm, err := Normalize(payload, source, sourceAccount, sourceEventID, rawExcerptBytes)
	if err != nil {
		return "", false, err
	}

	id, duplicate, err = p.store.AppendNotification(ctx, &store.Notification{
		Source:        norm.Source,
		SourceAccount: norm.SourceAccount,
		SourceEventID: norm.SourceEventID,
		DedupeKey:     norm.DedupeKey,
		Summary:       norm.Summary,
		PayloadHash:   norm.PayloadHash,
		RawExcerpt:    norm.RawExcerpt,
		RawSizeBytes:  norm.RawSizeBytes,
		RawTruncated:  norm.RawTruncated,
	})
	if err != nil {
		return "", false, err
	}

	if duplicate {
		p.audit(ctx, store.AuditNotificationDuplicate, "duplicate notification: "+norm.Summary, map[string]string{"id": id, "dedupeKey": norm.DedupeKey})
	} else {
		p.audit(ctx, store.AuditNotificationIngested, "notification ingested: "+norm.Summary, map[string]string{"id": id, "dedupeKey": norm.DedupeKey})
	}
	return id, duplicate, nil
}

// ClaimNext atomically claims the oldest received|queued notification,
// or returns nil if the queue is empty (spec §4.4.2).
func (p *Pipeline) ClaimNext(ctx context.Context) (*store.Notification, error) {
	n, err := p.store.ClaimNextQueuedNotification(ctx)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	p.audit(ctx, store.AuditNotificationProcessing, "claimed notification: "+n.Summary, map[string]string{"id": n.ID})
	return n, nil
}

// MaybePrune runs the prune sweep at most every 10 minutes (spec
// §4.4.2). Returns the number of rows deleted, or 0 if it skipped
// because the window hasn't elapsed.
func (p *Pipeline) MaybePrune(ctx context.Context, retentionDays, maxRows int) (int64, error) {
	if !p.lastPrune.IsZero() && time.Since(p.lastPrune) < 10*time.Minute {
		return 0, nil
	}
	p.lastPrune = time.Now()

	deleted, err := p.store.PruneNotifications(ctx, time.Duration(retentionDays)*24*time.Hour, maxRows)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		p.log.Info("notify: pruned notifications", "deleted", deleted)
	}
	return deleted, nil
}

func (p *Pipeline) audit(ctx context.Context, kind, summary string, payload any) {
	data, _ := json.Marshal(payload)
	if err := p.store.AppendAudit(ctx, &store.AuditEvent{
		Timestamp:   time.Now(),
		Kind:        kind,
		Summary:     summary,
		PayloadJSON: string(data),
	}); err != nil {
		p.log.Warn("notify: failed to append audit event", "kind", kind, "error", err)
	}
}
