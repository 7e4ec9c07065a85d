package bridge

import (
	"context"
	"log/slog"

	"imessage-codex-bridge/internal/provider"
	"imessage-codex-bridge/internal/style"
)

const maxChunkChars = 1200

// outboundQueue serializes outbound sends (spec §4.6.3): style, chunk,
// then send each chunk sequentially. A failure is logged; the queue
// never stalls on it.
type outboundQueue struct {
	log       *slog.Logger
	provider  provider.Client
	number    string
	stylingOn bool
	ch        chan string
}

func newOutboundQueue(log *slog.Logger, prov provider.Client, number string, stylingOn bool) *outboundQueue {
	return &outboundQueue{
		log:       log,
		provider:  prov,
		number:    number,
		stylingOn: stylingOn,
		ch:        make(chan string, 256),
	}
}

func (q *outboundQueue) enqueue(text string) {
	select {
	case q.ch <- text:
	default:
		q.log.Warn("bridge: outbound queue full, dropping message")
	}
}

func (q *outboundQueue) start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-q.ch:
				q.sendOne(ctx, text)
			}
		}
	}()
}

func (q *outboundQueue) sendOne(ctx context.Context, text string) {
	rendered := text
	if q.stylingOn {
		rendered = style.ApplyStyling(rendered)
	}
	chunks := style.SplitMessage(rendered, maxChunkChars)
	for _, chunk := range chunks {
		if _, err := q.provider.SendMessage(ctx, q.number, chunk); err != nil {
			q.log.Error("bridge: outbound send failed", "error", err)
		}
	}
}
