package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/logger"
)

// Memory is the in-process EventBus. Dispatch is synchronous and in
// publish order: async fan-out reordered streamed output, and every
// consumer here relies on seeing events in the order they happened.
type Memory struct {
	mu     sync.RWMutex
	subs   []*memSub
	closed bool
	logger *logger.Logger
}

type memSub struct {
	bus     *Memory
	tokens  []string // pattern split on "."
	handler EventHandler

	mu     sync.Mutex
	active bool
}

// NewMemory creates an empty in-process bus.
func NewMemory(log *logger.Logger) *Memory {
	return &Memory{logger: log}
}

// Publish delivers the event to every matching subscriber before
// returning.
func (b *Memory) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	// Snapshot so handlers can subscribe/unsubscribe without deadlock.
	targets := make([]*memSub, 0, len(b.subs))
	subjectTokens := strings.Split(subject, ".")
	for _, sub := range b.subs {
		if sub.Active() && matchTokens(subjectTokens, sub.tokens) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Error("Event handler error",
				zap.String("subject", subject),
				zap.String("event_type", event.Type),
				zap.Error(err))
		}
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	return nil
}

// Subscribe registers a handler for a subject pattern.
func (b *Memory) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memSub{
		bus:     b,
		tokens:  strings.Split(subject, "."),
		handler: handler,
		active:  true,
	}
	b.subs = append(b.subs, sub)

	b.logger.Debug("Subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// Close deactivates every subscription and rejects further use.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, sub := range b.subs {
		sub.deactivate()
	}
	b.subs = nil
	return nil
}

func (s *memSub) Unsubscribe() error {
	s.deactivate()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memSub) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memSub) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// matchTokens walks subject tokens against a subscribe pattern.
// `*` consumes exactly one token, `>` consumes the remaining one or
// more and must be last.
func matchTokens(subject, pattern []string) bool {
	for i, p := range pattern {
		switch p {
		case ">":
			return i == len(pattern)-1 && len(subject) > i
		case "*":
			if i >= len(subject) {
				return false
			}
		default:
			if i >= len(subject) || subject[i] != p {
				return false
			}
		}
	}
	return len(subject) == len(pattern)
}
