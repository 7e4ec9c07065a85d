package agentsession

import (
	"context"
	"encoding/json"
	"time"

	"imessage-codex-bridge/internal/rpc"
)

// transport is the subset of *rpc.Transport the Manager depends on,
// mirroring the teacher's git.Client interface-for-testability
// convention so tests can swap in a fake agent without spawning a real
// child process.
type transport interface {
	Start(ctx context.Context, clientInfo map[string]any) error
	Stop() error
	Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Notify(method string, params any) error
	Respond(id int64, result any) error
	RespondError(id int64, code int, message string, data any) error
	Subscribe() <-chan rpc.Event
}

var _ transport = (*rpc.Transport)(nil)
