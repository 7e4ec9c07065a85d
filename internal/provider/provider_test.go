package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-package Client stand-in for this file's tests,
// mirroring the teacher's git.Client fakes. internal/bridge's tests use
// their own fakeProvider, since a _test.go type is not visible outside
// its package.
type fakeClient struct {
	messages      []Message
	sendCalls     []string
	typingCalls   []string
	markReadCalls []string
	sendErr       error
}

func (f *fakeClient) FetchMessages(ctx context.Context, limit int) ([]Message, error) {
	return f.messages, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, number, content string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sendCalls = append(f.sendCalls, content)
	return "fake-handle-" + number, nil
}

func (f *fakeClient) SendTyping(ctx context.Context, number string) error {
	f.typingCalls = append(f.typingCalls, number)
	return nil
}

func (f *fakeClient) MarkRead(ctx context.Context, number, messageHandle string) error {
	f.markReadCalls = append(f.markReadCalls, messageHandle)
	return nil
}

var _ Client = (*fakeClient)(nil)

func TestFakeClient_SendMessage(t *testing.T) {
	f := &fakeClient{}
	handle, err := f.SendMessage(context.Background(), "+15550001111", "hi")
	require.NoError(t, err)
	assert.Equal(t, "fake-handle-+15550001111", handle)
	assert.Equal(t, []string{"hi"}, f.sendCalls)
}

func TestMessage_FromNumberString(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"bare string", "+15550001111", "+15550001111"},
		{"array first entry", []any{"+15550001111", "+15550002222"}, "+15550001111"},
		{"array with empty first entry", []any{"", "+15550002222"}, "+15550002222"},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Message{FromNumber: tc.in}
			assert.Equal(t, tc.want, m.FromNumberString())
		})
	}
}

func TestFakeClient_FetchMessagesReturnsRowsUnfiltered(t *testing.T) {
	f := &fakeClient{
		messages: []Message{
			{MessageHandle: "a", Content: "hi", IsOutbound: false},
			{MessageHandle: "b", Content: "echo", IsOutbound: true},
		},
	}
	msgs, err := f.FetchMessages(context.Background(), 10)
	require.NoError(t, err)
	// fakeClient returns its rows as given; dropping is_outbound rows is
	// done by httpClient.FetchMessages, which this test does not exercise.
	assert.Len(t, msgs, 2)
}

func TestBestTimestamp_PrefersCreatedAt(t *testing.T) {
	m := Message{
		CreatedAt:   "2026-08-01T12:00:00Z",
		DateSent:    "2026-08-01T11:00:00Z",
		DateUpdated: "2026-08-01T10:00:00Z",
	}
	ts, ok := BestTimestamp(m)
	require.True(t, ok)
	assert.Equal(t, 12, ts.Hour())
}

func TestBestTimestamp_FallsBackWhenCreatedAtMissing(t *testing.T) {
	m := Message{DateSent: "2026-08-01T11:00:00Z"}
	ts, ok := BestTimestamp(m)
	require.True(t, ok)
	assert.Equal(t, 11, ts.Hour())
}

func TestBestTimestamp_MissingSortsLast(t *testing.T) {
	_, ok := BestTimestamp(Message{})
	assert.False(t, ok)
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, isRetryableStatus(429))
	assert.True(t, isRetryableStatus(502))
	assert.True(t, isRetryableStatus(503))
	assert.True(t, isRetryableStatus(504))
	assert.False(t, isRetryableStatus(400))
	assert.False(t, isRetryableStatus(200))
}
