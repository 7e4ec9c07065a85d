package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"imessage-codex-bridge/internal/config"
	"imessage-codex-bridge/internal/store"
)

func restartTestBridge(t *testing.T) (*Bridge, *fakeProvider) {
	st := newTestBridgeStore(t)
	prov := &fakeProvider{}
	b := &Bridge{
		log:      discardLogger(),
		cfg:      &config.Config{TrustedUser: "+15550001111"},
		store:    st,
		provider: prov,
		outbound: newOutboundQueue(discardLogger(), prov, "+15550001111", false),
	}
	return b, prov
}

// TestBridgeRestartHandshake exercises seed scenario 7: /restart bridge
// sends the outbound notice, persists a one-shot flag, sets
// restartRequested, and the next process's dispatchPendingRestartNotice
// consumes it exactly once and dispatches a "back online" message.
func TestBridgeRestartHandshake(t *testing.T) {
	b, prov := restartTestBridge(t)
	ctx := context.Background()
	b.outbound.start(ctx)

	require.NoError(t, b.requestRestart(ctx, "bridge"))

	require.True(t, b.ConsumeRestartRequested())
	require.False(t, b.ConsumeRestartRequested(), "restartRequested must be consumed exactly once")

	require.Eventually(t, func() bool {
		for _, m := range prov.sentMessages() {
			if m == "Restarting bridge now..." {
				return true
			}
		}
		return false
	}, defaultEventualTimeout, defaultEventualTick)

	// Simulate the next process: dispatchPendingRestartNotice should
	// consume the persisted notice and announce it's back.
	next, nextProv := restartTestBridge(t)
	next.store = b.store // same underlying db, simulating a relaunch against the same file
	next.outbound = newOutboundQueue(discardLogger(), nextProv, "+15550001111", false)
	next.outbound.start(ctx)

	require.NoError(t, next.dispatchPendingRestartNotice(ctx))
	require.Eventually(t, func() bool {
		for _, m := range nextProv.sentMessages() {
			if m == "Bridge restarted. Back online." {
				return true
			}
		}
		return false
	}, defaultEventualTimeout, defaultEventualTick)

	// The notice is one-shot: a second dispatch on a fresh process finds
	// nothing pending.
	third, thirdProv := restartTestBridge(t)
	third.store = b.store
	third.outbound = newOutboundQueue(discardLogger(), thirdProv, "+15550001111", false)
	third.outbound.start(ctx)
	require.NoError(t, third.dispatchPendingRestartNotice(ctx))
	require.Empty(t, thirdProv.sentMessages())
}

func TestDispatchPendingRestartNotice_NoopWhenNothingPending(t *testing.T) {
	b, prov := restartTestBridge(t)
	ctx := context.Background()
	b.outbound.start(ctx)

	require.NoError(t, b.dispatchPendingRestartNotice(ctx))
	require.Empty(t, prov.sentMessages())
}

func TestDispatchPendingRestartNotice_DiscardsMalformedNotice(t *testing.T) {
	b, prov := restartTestBridge(t)
	ctx := context.Background()
	b.outbound.start(ctx)
	require.NoError(t, b.store.SetFlag(ctx, store.FlagPendingBridgeRestart, "not json"))

	require.NoError(t, b.dispatchPendingRestartNotice(ctx))
	require.Empty(t, prov.sentMessages())
}
