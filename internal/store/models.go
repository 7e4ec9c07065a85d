package store

import "time"

// Session is the singleton per-trusted-user row described in spec §3. The
// store always returns one (creating it with defaults on first reference).
type Session struct {
	PhoneNumber  string
	ThreadID     string // empty means no current thread
	ActiveTurnID string // empty means no active turn
	Model        string
	UpdatedAt    time.Time
}

// NotificationStatus is the closed set of states a Notification moves
// through (spec §3).
type NotificationStatus string

const (
	NotificationReceived   NotificationStatus = "received"
	NotificationQueued     NotificationStatus = "queued"
	NotificationProcessing NotificationStatus = "processing"
	NotificationSent       NotificationStatus = "sent"
	NotificationSuppressed NotificationStatus = "suppressed"
	NotificationFailed     NotificationStatus = "failed"
	NotificationDuplicate  NotificationStatus = "duplicate"
)

// NotificationSource is the closed set of origins a Notification can have.
type NotificationSource string

const (
	SourceWebhook   NotificationSource = "webhook"
	SourceCron      NotificationSource = "cron"
	SourceHeartbeat NotificationSource = "heartbeat"
)

// Notification is a row in the notifications table (spec §3, §6).
type Notification struct {
	ID             string
	Source         NotificationSource
	SourceAccount  string
	SourceEventID  string
	DedupeKey      string
	Status         NotificationStatus
	ReceivedAt     time.Time
	ProcessedAt    time.Time // zero if not yet processed
	Delivery       string    // "send" | "suppress" | "" if undecided
	ReasonCode     string
	MessageExcerpt string // the final dispatched text, if any
	Summary        string
	PayloadHash    string
	RawExcerpt     []byte
	RawSizeBytes   int
	RawTruncated   bool
	DuplicateCount int
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	ThreadID       string
	TurnID         string
	DecisionJSON   string // the raw NotificationDecision envelope, once known
	ErrorText      string
}

// NotificationListFilter narrows List/Search queries.
type NotificationListFilter struct {
	Source NotificationSource // empty means any
	Limit  int
}

// AuditEvent is an append-only row in audit_events (spec §3).
type AuditEvent struct {
	ID          int64
	Timestamp   time.Time
	PhoneNumber string
	ThreadID    string
	TurnID      string
	Kind        string
	Summary     string
	PayloadJSON string
}

// Recognized audit event kinds (spec §3's "closed set").
const (
	AuditInboundMessage         = "inbound_message"
	AuditOutboundMessage        = "outbound_message"
	AuditCommand                = "command"
	AuditTurnStart              = "turn_start"
	AuditTurnComplete           = "turn_complete"
	AuditTurnSteer              = "turn_steer"
	AuditTurnInterrupt          = "turn_interrupt"
	AuditAssistantDelta         = "assistant_delta"
	AuditApprovalRequest        = "approval_request"
	AuditApprovalResponse       = "approval_response"
	AuditNotificationIngested   = "notification_ingested"
	AuditNotificationDuplicate  = "notification_duplicate"
	AuditNotificationQueued     = "notification_queued"
	AuditNotificationProcessing = "notification_processing"
	AuditNotificationDecision   = "notification_decision"
	AuditNotificationFailed     = "notification_failed"
	AuditSystem                 = "system"
	AuditError                  = "error"
	AuditModelFallback          = "model_fallback"
)

// Recognized flag keys (spec §3).
const (
	FlagPaused                 = "paused"
	FlagAutoApprove            = "auto_approve"
	FlagReasoningEffortByModel = "reasoning_effort_by_model"
	FlagSparkReturnTarget      = "spark_return_target"
	FlagPendingBridgeRestart   = "pending_bridge_restart_notice"
)

// SparkReturnTarget is the JSON value stored under FlagSparkReturnTarget.
type SparkReturnTarget struct {
	Model  string `json:"model"`
	Effort string `json:"effort"`
}

// PendingBridgeRestartNotice is the JSON value stored under
// FlagPendingBridgeRestart.
type PendingBridgeRestartNotice struct {
	Target       string `json:"target"` // "bridge" | "both"
	RequestedAt  int64  `json:"requestedAtMs"`
}
