package transport

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/logger"
)

// DefaultBufferSize bounds the outbound buffer when no size is configured.
const DefaultBufferSize = 100

// Message is an outbound text send held while the link is down.
type Message struct {
	Recipient  string
	Text       string
	EnqueuedAt time.Time
}

// BufferStats exposes the outbox counters for the status API and tests.
type BufferStats struct {
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
	Drained  uint64 `json:"drained"`
	Pending  int    `json:"pending"`
}

// Outbox is a bounded FIFO of outbound messages. When full, the oldest
// message is dropped to make room for the newest.
type Outbox struct {
	mu       sync.Mutex
	capacity int
	items    []Message
	enqueued uint64
	dropped  uint64
	drained  uint64
	logger   *logger.Logger
}

// NewOutbox creates an outbox holding at most capacity messages.
func NewOutbox(capacity int, log *logger.Logger) *Outbox {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Outbox{
		capacity: capacity,
		logger:   log.WithComponent("outbox"),
	}
}

// Enqueue appends a message, evicting the oldest entry when the buffer
// is full.
func (b *Outbox) Enqueue(msg Message) {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.enqueued++
	if len(b.items) >= b.capacity {
		oldest := b.items[0]
		b.items = b.items[1:]
		b.dropped++
		b.logger.Warn("outbound buffer full, dropping oldest message",
			zap.String("recipient", oldest.Recipient),
			zap.Time("enqueued_at", oldest.EnqueuedAt))
	}
	b.items = append(b.items, msg)
}

// Drain delivers buffered messages in arrival order. Failed sends are
// counted and skipped, never re-enqueued, so one bad message cannot wedge
// the backlog.
func (b *Outbox) Drain(send func(Message) error) (sent, failed int) {
	for {
		b.mu.Lock()
		if len(b.items) == 0 {
			b.items = nil
			b.mu.Unlock()
			return sent, failed
		}
		msg := b.items[0]
		b.items = b.items[1:]
		b.drained++
		b.mu.Unlock()

		if err := send(msg); err != nil {
			failed++
			b.logger.Warn("failed to deliver buffered message",
				zap.String("recipient", msg.Recipient),
				zap.Error(err))
			continue
		}
		sent++
	}
}

// Len returns the number of buffered messages.
func (b *Outbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Stats returns the lifetime counters.
func (b *Outbox) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Enqueued: b.enqueued,
		Dropped:  b.dropped,
		Drained:  b.drained,
		Pending:  len(b.items),
	}
}
