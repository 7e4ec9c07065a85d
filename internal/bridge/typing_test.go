package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingState_SendsOnFirstCall(t *testing.T) {
	prov := &fakeProvider{}
	ts := newTypingState(discardLogger(), prov, "+15550001111", time.Hour)
	ts.maybeSend(context.Background())
	require.Equal(t, 1, prov.typingCalls)
}

func TestTypingState_SuppressesWithinHeartbeatWindow(t *testing.T) {
	prov := &fakeProvider{}
	ts := newTypingState(discardLogger(), prov, "+15550001111", time.Hour)
	ts.maybeSend(context.Background())
	ts.maybeSend(context.Background())
	require.Equal(t, 1, prov.typingCalls)
}

func TestTypingState_ClearAllowsImmediateResend(t *testing.T) {
	prov := &fakeProvider{}
	ts := newTypingState(discardLogger(), prov, "+15550001111", time.Hour)
	ts.maybeSend(context.Background())
	ts.clear()
	ts.maybeSend(context.Background())
	require.Equal(t, 2, prov.typingCalls)
}

func TestTypingState_DisabledNeverSends(t *testing.T) {
	prov := &fakeProvider{}
	ts := newTypingState(discardLogger(), prov, "+15550001111", time.Nanosecond)
	ts.setEnabled(false)
	ts.maybeSend(context.Background())
	assert.Equal(t, 0, prov.typingCalls)
}

func TestTypingState_BacksOffAfterFailure(t *testing.T) {
	prov := &fakeProvider{typingErr: assertErr}
	ts := newTypingState(discardLogger(), prov, "+15550001111", time.Nanosecond)
	ts.maybeSend(context.Background())
	require.Equal(t, 1, prov.typingCalls)

	// Even though the heartbeat window has already elapsed, the 30s
	// failure backoff should still block a second attempt immediately.
	ts.maybeSend(context.Background())
	require.Equal(t, 1, prov.typingCalls)
}

var assertErr = &stubErr{"typing send failed"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }
