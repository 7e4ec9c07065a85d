// Package notify implements the notification pipeline (C4): payload
// normalization, dedupe/queue semantics, decision-turn completion
// handling, and pruning (spec §4.4).
package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"imessage-codex-bridge/internal/store"
)

const (
	minRawExcerptBytes = 256
	maxRawExcerptBytes = 32768
	maxSummaryChars    = 220
)

// Normalized is the result of normalize() (spec §4.4.1): everything
// needed to build a store.Notification row, before dedupe/insertion.
type Normalized struct {
	Source        store.NotificationSource
	SourceAccount string
	SourceEventID string
	DedupeKey     string
	Summary       string
	PayloadHash   string
	RawExcerpt    []byte
	RawSizeBytes  int
	RawTruncated  bool
}

// Normalize canonicalizes payload, computes its dedupe key and summary,
// and clamps the raw excerpt (spec §4.4.1). sourceEventID and
// sourceAccount, if non-empty, are taken as caller-supplied and take
// priority over payload-derived values.
func Normalize(payload any, source store.NotificationSource, sourceAccount, sourceEventID string, rawExcerptBytes int) (*Normalized, error) {
	canonical, err := canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("notify: canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	payloadHash := hex.EncodeToString(sum[:])

	obj, _ := asObject(payload)

	eventID := firstNonEmpty(sourceEventID, stringField(obj, "event_id"), stringField(obj, "eventId"), stringField(obj, "id"), stringField(obj, "message_handle"))
	account := firstNonEmpty(sourceAccount, stringField(obj, "source_account"), stringField(obj, "sourceAccount"), stringField(obj, "account"), stringField(obj, "account_id"), stringField(obj, "accountId"))

	accountPart := "-"
	if account != "" {
		accountPart = account
	}

	var dedupeKey string
	if eventID != "" {
		dedupeKey = fmt.Sprintf("event:%s:%s:%s", source, accountPart, eventID)
	} else {
		dedupeKey = fmt.Sprintf("hash:%s:%s:%s", source, accountPart, payloadHash)
	}

	summary := deriveSummary(payload, obj)

	clamp := rawExcerptBytes
	if clamp < minRawExcerptBytes {
		clamp = minRawExcerptBytes
	}
	if clamp > maxRawExcerptBytes {
		clamp = maxRawExcerptBytes
	}
	truncated := len(canonical) > clamp
	excerpt := canonical
	if truncated {
		excerpt = canonical[:clamp]
	}

	return &Normalized{
		Source:        source,
		SourceAccount: account,
		SourceEventID: eventID,
		DedupeKey:     dedupeKey,
		Summary:       summary,
		PayloadHash:   payloadHash,
		RawExcerpt:    excerpt,
		RawSizeBytes:  len(canonical),
		RawTruncated:  truncated,
	}, nil
}

// canonicalize renders payload as UTF-8 JSON for objects/arrays/maps, or
// String(payload) otherwise (spec §4.4.1).
func canonicalize(payload any) ([]byte, error) {
	switch payload.(type) {
	case map[string]any, []any:
		return json.Marshal(payload)
	case string:
		return []byte(payload.(string)), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return []byte(fmt.Sprintf("%v", payload)), nil
		}
		return data, nil
	}
}

func asObject(payload any) (map[string]any, bool) {
	obj, ok := payload.(map[string]any)
	return obj, ok
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	if v, ok := obj[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// deriveSummary prefers payload string fields summary|message|text|
// title|event|type|kind; falls back to a key listing or array-length
// description (spec §4.4.1), clamped to 220 chars.
func deriveSummary(payload any, obj map[string]any) string {
	for _, key := range []string{"summary", "message", "text", "title", "event", "type", "kind"} {
		if s := stringField(obj, key); s != "" {
			return clampSummary(s)
		}
	}
	if obj != nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return clampSummary("payload with keys: " + strings.Join(keys, ", "))
	}
	if arr, ok := payload.([]any); ok {
		return clampSummary(fmt.Sprintf("payload array with %d elements", len(arr)))
	}
	return clampSummary("notification payload")
}

func clampSummary(s string) string {
	runes := []rune(s)
	if len(runes) <= maxSummaryChars {
		return s
	}
	return string(runes[:maxSummaryChars])
}
