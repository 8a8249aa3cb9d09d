// Package transport maintains the link to the messaging gateway: a
// websocket client wrapped in a reconnecting state machine, a bounded
// outbound buffer for disconnect periods, and a token-bucket rate
// limiter with an escalating penalty near provider limits.
package transport

import "context"

// Inbound is a message received from the remote user.
type Inbound struct {
	ThreadID string
	Text     string
}

// Conn is a single established gateway connection. Implementations must
// close the Inbound channel when the connection drops, which is how the
// manager learns about the loss.
type Conn interface {
	SendText(ctx context.Context, recipient, text string) error
	SendAttachment(ctx context.Context, recipient, caption, filename string, payload []byte) error
	Inbound() <-chan Inbound
	Close() error
}

// Dialer opens gateway connections. Each successful Dial yields a fresh
// Conn; the manager never reuses a dropped one.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Catchup is a per-thread summary delivered during the SYNCING phase of a
// reconnect, before any buffered messages are drained.
type Catchup struct {
	ThreadID string
	Text     string
}

// SyncFunc collects catch-up summaries for sessions that stayed active
// while the link was down. The daemon wires this to the session layer.
type SyncFunc func(ctx context.Context) ([]Catchup, error)
