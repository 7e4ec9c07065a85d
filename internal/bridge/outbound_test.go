package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"imessage-codex-bridge/internal/provider"
)

type fakeProvider struct {
	mu            sync.Mutex
	messages      []provider.Message
	sendCalls     []string
	typingCalls   int
	markReadCalls []string
	sendErr       error
	typingErr     error
}

func (f *fakeProvider) FetchMessages(ctx context.Context, limit int) ([]provider.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages, nil
}

func (f *fakeProvider) SendMessage(ctx context.Context, number, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sendCalls = append(f.sendCalls, content)
	return "handle", nil
}

func (f *fakeProvider) SendTyping(ctx context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingCalls++
	return f.typingErr
}

func (f *fakeProvider) MarkRead(ctx context.Context, number, messageHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls = append(f.markReadCalls, messageHandle)
	return nil
}

func (f *fakeProvider) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sendCalls))
	copy(out, f.sendCalls)
	return out
}

var _ provider.Client = (*fakeProvider)(nil)

const (
	defaultEventualTimeout = time.Second
	defaultEventualTick    = 5 * time.Millisecond
)

func (f *fakeProvider) markReads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.markReadCalls))
	copy(out, f.markReadCalls)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestOutboundQueue_SendsWithoutStyling(t *testing.T) {
	prov := &fakeProvider{}
	q := newOutboundQueue(discardLogger(), prov, "+15550001111", false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.start(ctx)

	q.enqueue("hello there")

	require.Eventually(t, func() bool {
		return len(prov.sentMessages()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "hello there", prov.sentMessages()[0])
}

func TestOutboundQueue_SplitsLongMessagesIntoChunks(t *testing.T) {
	prov := &fakeProvider{}
	q := newOutboundQueue(discardLogger(), prov, "+15550001111", false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.start(ctx)

	long := strings.Repeat("a", maxChunkChars+500)
	q.enqueue(long)

	require.Eventually(t, func() bool {
		return len(prov.sentMessages()) >= 2
	}, time.Second, 5*time.Millisecond)

	var rejoined strings.Builder
	for _, c := range prov.sentMessages() {
		rejoined.WriteString(c)
	}
	require.Equal(t, long, rejoined.String())
}

func TestOutboundQueue_SendFailureDoesNotStallQueue(t *testing.T) {
	prov := &fakeProvider{sendErr: errors.New("boom")}
	q := newOutboundQueue(discardLogger(), prov, "+15550001111", false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.start(ctx)

	q.enqueue("first")
	q.enqueue("second")

	require.Eventually(t, func() bool {
		prov.mu.Lock()
		defer prov.mu.Unlock()
		return prov.typingCalls == 0 // just a liveness proxy; real assertion below
	}, 50*time.Millisecond, 5*time.Millisecond)

	// Even with every send failing, the queue must keep draining rather
	// than blocking forever on the first failed item.
	prov.mu.Lock()
	prov.sendErr = nil
	prov.mu.Unlock()
	q.enqueue("third")
	require.Eventually(t, func() bool {
		for _, m := range prov.sentMessages() {
			if m == "third" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestOutboundQueue_DropsWhenFull(t *testing.T) {
	prov := &fakeProvider{}
	q := newOutboundQueue(discardLogger(), prov, "+15550001111", false)
	// Do not start the consumer goroutine, so the channel fills up.
	for i := 0; i < 300; i++ {
		q.enqueue("msg")
	}
	require.Len(t, q.ch, 256)
}
