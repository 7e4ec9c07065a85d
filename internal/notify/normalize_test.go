package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"imessage-codex-bridge/internal/store"
)

func TestNormalize_DedupeKeyPrefersEventID(t *testing.T) {
	norm, err := Normalize(map[string]any{"event_id": "evt_1", "summary": "build failed"}, store.SourceWebhook, "", "", 1024)
	require.NoError(t, err)
	require.Equal(t, "event:webhook:-:evt_1", norm.DedupeKey)
	require.Equal(t, "build failed", norm.Summary)
}

func TestNormalize_DedupeKeyFallsBackToHash(t *testing.T) {
	norm, err := Normalize(map[string]any{"summary": "no id here"}, store.SourceCron, "", "", 1024)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(norm.DedupeKey, "hash:cron:-:"))
	require.Len(t, norm.PayloadHash, 64)
}

func TestNormalize_AccountPartUsesCallerThenPayload(t *testing.T) {
	norm, err := Normalize(map[string]any{"event_id": "evt_2", "account": "acct-from-payload"}, store.SourceWebhook, "acct-from-caller", "", 1024)
	require.NoError(t, err)
	require.Equal(t, "acct-from-caller", norm.SourceAccount)
	require.Equal(t, "event:webhook:acct-from-caller:evt_2", norm.DedupeKey)
}

func TestNormalize_SummaryPrefersFieldPriorityOrder(t *testing.T) {
	norm, err := Normalize(map[string]any{"message": "from message", "title": "from title"}, store.SourceWebhook, "", "", 1024)
	require.NoError(t, err)
	require.Equal(t, "from message", norm.Summary)
}

func TestNormalize_SummaryFallsBackToKeyListing(t *testing.T) {
	norm, err := Normalize(map[string]any{"foo": 1, "bar": 2}, store.SourceWebhook, "", "", 1024)
	require.NoError(t, err)
	require.Equal(t, "payload with keys: bar, foo", norm.Summary)
}

func TestNormalize_SummaryFallsBackToArrayLength(t *testing.T) {
	norm, err := Normalize([]any{"a", "b", "c"}, store.SourceWebhook, "", "", 1024)
	require.NoError(t, err)
	require.Equal(t, "payload array with 3 elements", norm.Summary)
}

func TestNormalize_SummaryFallsBackToGenericForScalar(t *testing.T) {
	norm, err := Normalize("just a string", store.SourceHeartbeat, "", "", 1024)
	require.NoError(t, err)
	require.Equal(t, "notification payload", norm.Summary)
}

func TestNormalize_SummaryIsClampedTo220Chars(t *testing.T) {
	long := strings.Repeat("x", 500)
	norm, err := Normalize(map[string]any{"summary": long}, store.SourceWebhook, "", "", 1024)
	require.NoError(t, err)
	require.Len(t, []rune(norm.Summary), maxSummaryChars)
}

func TestNormalize_RawExcerptClampedToMinimum(t *testing.T) {
	norm, err := Normalize(map[string]any{"summary": "tiny"}, store.SourceWebhook, "", "", 10)
	require.NoError(t, err)
	require.LessOrEqual(t, len(norm.RawExcerpt), minRawExcerptBytes)
}

func TestNormalize_RawExcerptTruncatesAtMaximumAndSetsFlag(t *testing.T) {
	big := make(map[string]any)
	big["summary"] = strings.Repeat("y", maxRawExcerptBytes*2)
	norm, err := Normalize(big, store.SourceWebhook, "", "", maxRawExcerptBytes*4)
	require.NoError(t, err)
	require.True(t, norm.RawTruncated)
	require.Len(t, norm.RawExcerpt, maxRawExcerptBytes)
	require.Greater(t, norm.RawSizeBytes, maxRawExcerptBytes)
}

func TestNormalize_PlainStringPayloadIsCanonicalizedVerbatim(t *testing.T) {
	norm, err := Normalize("raw text payload", store.SourceWebhook, "", "", 1024)
	require.NoError(t, err)
	require.Equal(t, "raw text payload", string(norm.RawExcerpt))
	require.False(t, norm.RawTruncated)
}
