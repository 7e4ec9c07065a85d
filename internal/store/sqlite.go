package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from the poller, the webhook
	// handler, and the transport reader all touching the store at once.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

func nowMs() int64 { return time.Now().UTC().UnixMilli() }

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Migrate runs all embedded SQL migration files in order and records the
// highest applied migration number in PRAGMA user_version, per spec
// §4.1's "Schema migrations are versioned with a user-version pragma."
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			applied++
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
		applied++
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", applied)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Session ---

func (s *SQLiteStore) GetSession(ctx context.Context, phoneNumber string) (*Session, error) {
	sess := &Session{PhoneNumber: phoneNumber}
	var updatedMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, active_turn_id, model, updated_at_ms FROM sessions WHERE phone_number = ?`,
		phoneNumber,
	).Scan(&sess.ThreadID, &sess.ActiveTurnID, &sess.Model, &updatedMs)
	if err == sql.ErrNoRows {
		now := nowMs()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (phone_number, thread_id, active_turn_id, model, updated_at_ms) VALUES (?, '', '', '', ?)`,
			phoneNumber, now)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		sess.UpdatedAt = msToTime(now)
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.UpdatedAt = msToTime(updatedMs)
	return sess, nil
}

func (s *SQLiteStore) SetSessionThread(ctx context.Context, phoneNumber, threadID string) error {
	if _, err := s.GetSession(ctx, phoneNumber); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET thread_id = ?, updated_at_ms = ? WHERE phone_number = ?`,
		threadID, nowMs(), phoneNumber)
	if err != nil {
		return fmt.Errorf("set session thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetActiveTurn(ctx context.Context, phoneNumber, turnID string) error {
	if _, err := s.GetSession(ctx, phoneNumber); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active_turn_id = ?, updated_at_ms = ? WHERE phone_number = ?`,
		turnID, nowMs(), phoneNumber)
	if err != nil {
		return fmt.Errorf("set active turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearActiveTurn(ctx context.Context, phoneNumber string) error {
	return s.SetActiveTurn(ctx, phoneNumber, "")
}

func (s *SQLiteStore) SetSessionModel(ctx context.Context, phoneNumber, model string) error {
	if _, err := s.GetSession(ctx, phoneNumber); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET model = ?, updated_at_ms = ? WHERE phone_number = ?`,
		model, nowMs(), phoneNumber)
	if err != nil {
		return fmt.Errorf("set session model: %w", err)
	}
	return nil
}

// ResetSession clears thread + active turn atomically (spec §4.1).
func (s *SQLiteStore) ResetSession(ctx context.Context, phoneNumber string) error {
	if _, err := s.GetSession(ctx, phoneNumber); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET thread_id = '', active_turn_id = '', updated_at_ms = ? WHERE phone_number = ?`,
		nowMs(), phoneNumber)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// --- Dedupe ---

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageHandle string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_messages (message_handle, received_at_ms) VALUES (?, ?)`,
		messageHandle, nowMs())
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) MarkManyProcessed(ctx context.Context, messageHandles []string) (int, error) {
	if len(messageHandles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMs()
	inserted := 0
	for _, h := range messageHandles {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO inbound_messages (message_handle, received_at_ms) VALUES (?, ?)`, h, now)
		if err != nil {
			return 0, fmt.Errorf("mark many processed: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStore) HasAnyProcessed(ctx context.Context, messageHandles []string) (bool, error) {
	if len(messageHandles) == 0 {
		return false, nil
	}
	placeholders := make([]string, len(messageHandles))
	args := make([]any, len(messageHandles))
	for i, h := range messageHandles {
		placeholders[i] = "?"
		args[i] = h
	}
	query := "SELECT COUNT(*) FROM inbound_messages WHERE message_handle IN (" + joinPlaceholders(placeholders) + ")"
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("has any processed: %w", err)
	}
	return count > 0, nil
}

// PurgeDedupe deletes every dedupe entry. Spec §3: "Purged only by
// administrative action" — this is that action, exposed via `bridge
// dedupe purge`.
func (s *SQLiteStore) PurgeDedupe(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM inbound_messages")
	if err != nil {
		return 0, fmt.Errorf("purge dedupe: %w", err)
	}
	return res.RowsAffected()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}

// --- Flags ---

func (s *SQLiteStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM flags WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get flag %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetFlag(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (key, value, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms`,
		key, value, nowMs())
	if err != nil {
		return fmt.Errorf("set flag %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetFlagJSON(ctx context.Context, key string, out any) (bool, error) {
	value, ok, err := s.GetFlag(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return true, fmt.Errorf("unmarshal flag %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) SetFlagJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal flag %s: %w", key, err)
	}
	return s.SetFlag(ctx, key, string(data))
}

// ConsumeFlag atomically reads and deletes a one-shot flag
// (pending_bridge_restart_notice, spark_return_target).
func (s *SQLiteStore) ConsumeFlag(ctx context.Context, key string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var value string
	err = tx.QueryRowContext(ctx, "SELECT value FROM flags WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consume flag %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM flags WHERE key = ?", key); err != nil {
		return "", false, fmt.Errorf("consume flag %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit tx: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) DeleteFlag(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM flags WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete flag %s: %w", key, err)
	}
	return nil
}

// --- Audit ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, ev *AuditEvent) error {
	if ev.PayloadJSON == "" {
		ev.PayloadJSON = "{}"
	}
	ev.Timestamp = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (ts_ms, phone_number, thread_id, turn_id, kind, summary, payload_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UnixMilli(), ev.PhoneNumber, ev.ThreadID, ev.TurnID, ev.Kind, ev.Summary, ev.PayloadJSON)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	id, _ := res.LastInsertId()
	ev.ID = id
	return nil
}

// LastTurnTimeline returns the ordered events for the most recent turn id
// seen for the user, limited (spec §4.1).
func (s *SQLiteStore) LastTurnTimeline(ctx context.Context, phoneNumber string, limit int) ([]*AuditEvent, error) {
	var turnID string
	err := s.db.QueryRowContext(ctx,
		`SELECT turn_id FROM audit_events WHERE phone_number = ? AND turn_id != '' ORDER BY id DESC LIMIT 1`,
		phoneNumber,
	).Scan(&turnID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find last turn: %w", err)
	}

	query := `SELECT id, ts_ms, phone_number, thread_id, turn_id, kind, summary, payload_json
		FROM audit_events WHERE phone_number = ? AND turn_id = ? ORDER BY id ASC`
	args := []any{phoneNumber, turnID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.scanAuditEvents(ctx, query, args...)
}

func (s *SQLiteStore) ListRecentAudit(ctx context.Context, limit int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.scanAuditEvents(ctx,
		`SELECT id, ts_ms, phone_number, thread_id, turn_id, kind, summary, payload_json
		FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) scanAuditEvents(ctx context.Context, query string, args ...any) ([]*AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*AuditEvent
	for rows.Next() {
		ev := &AuditEvent{}
		var ts int64
		if err := rows.Scan(&ev.ID, &ts, &ev.PhoneNumber, &ev.ThreadID, &ev.TurnID, &ev.Kind, &ev.Summary, &ev.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Timestamp = msToTime(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Notifications ---

func (s *SQLiteStore) AppendNotification(ctx context.Context, n *Notification) (string, bool, error) {
	if n.ID == "" {
		n.ID = newULID()
	}
	now := time.Now().UTC()
	n.ReceivedAt = now
	n.FirstSeenAt = now
	n.LastSeenAt = now
	if n.Status == "" {
		n.Status = NotificationReceived
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications
		(id, source, source_account, source_event_id, dedupe_key, status, received_at_ms, raw_excerpt, raw_size_bytes, raw_truncated, summary, payload_hash, duplicate_count, first_seen_at_ms, last_seen_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		n.ID, string(n.Source), n.SourceAccount, n.SourceEventID, n.DedupeKey, string(n.Status),
		now.UnixMilli(), n.RawExcerpt, n.RawSizeBytes, boolToInt(n.RawTruncated), n.Summary, n.PayloadHash,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return "", false, fmt.Errorf("append notification: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows > 0 {
		return n.ID, false, nil
	}

	// Conflict on dedupe_key: increment duplicate_count, bump last_seen, return existing id.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM notifications WHERE dedupe_key = ?", n.DedupeKey).Scan(&existingID)
	if err != nil {
		return "", false, fmt.Errorf("lookup existing notification: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE notifications SET duplicate_count = duplicate_count + 1, last_seen_at_ms = ? WHERE id = ?`,
		now.UnixMilli(), existingID); err != nil {
		return "", false, fmt.Errorf("bump duplicate count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit tx: %w", err)
	}
	return existingID, true, nil
}

// ClaimNextQueuedNotification atomically transitions the oldest
// received|queued row to processing and returns it (spec §4.4.2).
func (s *SQLiteStore) ClaimNextQueuedNotification(ctx context.Context) (*Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM notifications WHERE status IN ('received', 'queued') ORDER BY received_at_ms ASC LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next queued notification: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE notifications SET status = ?, processed_at_ms = ? WHERE id = ?`,
		string(NotificationProcessing), nowMs(), id); err != nil {
		return nil, fmt.Errorf("claim notification: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s.GetNotification(ctx, id)
}

func (s *SQLiteStore) RecordNotificationDecision(ctx context.Context, id, delivery, reasonCode, messageExcerpt, decisionJSON, threadID, turnID string, status NotificationStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status=?, delivery=?, reason_code=?, message_excerpt=?, decision_json=?, thread_id=?, turn_id=?, processed_at_ms=? WHERE id=?`,
		string(status), delivery, reasonCode, messageExcerpt, decisionJSON, threadID, turnID, nowMs(), id)
	if err != nil {
		return fmt.Errorf("record notification decision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordNotificationFailure(ctx context.Context, id, errorText string, status NotificationStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status=?, error_text=?, processed_at_ms=? WHERE id=?`,
		string(status), errorText, nowMs(), id)
	if err != nil {
		return fmt.Errorf("record notification failure: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	results, err := s.scanNotifications(ctx,
		notificationSelectCols+" FROM notifications WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("notification not found: %s", id)
	}
	return results[0], nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, filter NotificationListFilter) ([]*Notification, error) {
	query := notificationSelectCols + " FROM notifications"
	var args []any
	if filter.Source != "" {
		query += " WHERE source = ?"
		args = append(args, string(filter.Source))
	}
	query += " ORDER BY received_at_ms DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)
	return s.scanNotifications(ctx, query, args...)
}

func (s *SQLiteStore) SearchNotifications(ctx context.Context, query string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	like := "%" + query + "%"
	return s.scanNotifications(ctx,
		notificationSelectCols+` FROM notifications
		WHERE summary LIKE ? OR source_event_id LIKE ? OR source_account LIKE ?
		ORDER BY received_at_ms DESC LIMIT ?`, like, like, like, limit)
}

const notificationSelectCols = `SELECT id, source, source_account, source_event_id, dedupe_key, status,
	received_at_ms, processed_at_ms, delivery, reason_code, message_excerpt, summary, payload_hash,
	raw_excerpt, raw_size_bytes, raw_truncated, duplicate_count, first_seen_at_ms, last_seen_at_ms,
	thread_id, turn_id, decision_json, error_text`

func (s *SQLiteStore) scanNotifications(ctx context.Context, query string, args ...any) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var source, status string
		var receivedMs, processedMs, firstSeenMs, lastSeenMs int64
		var truncated int
		if err := rows.Scan(&n.ID, &source, &n.SourceAccount, &n.SourceEventID, &n.DedupeKey, &status,
			&receivedMs, &processedMs, &n.Delivery, &n.ReasonCode, &n.MessageExcerpt, &n.Summary, &n.PayloadHash,
			&n.RawExcerpt, &n.RawSizeBytes, &truncated, &n.DuplicateCount, &firstSeenMs, &lastSeenMs,
			&n.ThreadID, &n.TurnID, &n.DecisionJSON, &n.ErrorText); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Source = NotificationSource(source)
		n.Status = NotificationStatus(status)
		n.RawTruncated = truncated != 0
		n.ReceivedAt = msToTime(receivedMs)
		n.ProcessedAt = msToTime(processedMs)
		n.FirstSeenAt = msToTime(firstSeenMs)
		n.LastSeenAt = msToTime(lastSeenMs)
		out = append(out, n)
	}
	return out, rows.Err()
}

// PruneNotifications deletes rows older than retention, then deletes the
// oldest rows until the total is at most cap (spec §4.4.2).
func (s *SQLiteStore) PruneNotifications(ctx context.Context, retention time.Duration, maxRows int) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE received_at_ms < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune by retention: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if maxRows > 0 {
		var total int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications").Scan(&total); err != nil {
			return deleted, fmt.Errorf("count notifications: %w", err)
		}
		if total > maxRows {
			excess := total - maxRows
			res, err := s.db.ExecContext(ctx,
				`DELETE FROM notifications WHERE id IN (
					SELECT id FROM notifications ORDER BY received_at_ms ASC LIMIT ?
				)`, excess)
			if err != nil {
				return deleted, fmt.Errorf("prune by cap: %w", err)
			}
			n, _ := res.RowsAffected()
			deleted += n
		}
	}
	return deleted, nil
}
