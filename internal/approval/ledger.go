// Package approval gates destructive tool calls behind remote-user
// consent. The ledger is in-memory only: a broker restart implicitly
// abandons every pending request, which is the safe direction.
package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
)

// RequestState is the lifecycle state of an approval request.
type RequestState string

const (
	// StatePending means the request awaits a decision.
	StatePending RequestState = "PENDING"
	// StateApproved means the remote user allowed the operation.
	StateApproved RequestState = "APPROVED"
	// StateRejected means the remote user denied the operation.
	StateRejected RequestState = "REJECTED"
	// StateTimeout means no decision arrived within the TTL.
	StateTimeout RequestState = "TIMEOUT"
)

// Terminal reports whether the state can no longer change.
func (s RequestState) Terminal() bool {
	return s != StatePending
}

// Request is one gated tool call awaiting (or past) a decision.
type Request struct {
	ID        string       `json:"id"`
	Tool      string       `json:"tool"`
	Target    string       `json:"target"`
	Reason    string       `json:"reason"`
	State     RequestState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	DecidedAt *time.Time   `json:"decided_at,omitempty"`
}

// Ledger tracks approval requests. All methods are safe for
// concurrent use.
type Ledger struct {
	ttl          time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	logger       *logger.Logger

	mu       sync.RWMutex
	requests map[string]*Request
}

// NewLedger creates a ledger. ttl bounds how long a request may stay
// PENDING before CheckTimeouts retires it; waitTimeout and
// pollInterval shape the cooperative Wait loop.
func NewLedger(ttl, waitTimeout, pollInterval time.Duration, log *logger.Logger) *Ledger {
	return &Ledger{
		ttl:          ttl,
		waitTimeout:  waitTimeout,
		pollInterval: pollInterval,
		logger:       log.WithComponent("approval"),
		requests:     make(map[string]*Request),
	}
}

// Request records a new PENDING entry for a tool call and returns it.
func (l *Ledger) Request(tool, target, reason string) *Request {
	l.mu.Lock()
	defer l.mu.Unlock()

	req := &Request{
		ID:        uuid.New().String(),
		Tool:      tool,
		Target:    target,
		Reason:    reason,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}
	l.requests[req.ID] = req

	l.logger.Info("Approval requested",
		zap.String("request_id", req.ID),
		zap.String("tool", tool),
		zap.String("target", target))
	return req
}

// Approve moves a PENDING request to APPROVED. Approving an already
// terminal request is a no-op, not an error.
func (l *Ledger) Approve(id string) (*Request, error) {
	return l.decide(id, StateApproved)
}

// Reject moves a PENDING request to REJECTED. A terminal state is
// never overridden: rejecting an APPROVED or TIMEOUT request leaves
// it untouched.
func (l *Ledger) Reject(id string) (*Request, error) {
	return l.decide(id, StateRejected)
}

func (l *Ledger) decide(id string, to RequestState) (*Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[id]
	if !ok {
		return nil, errors.NotFound("approval request", id)
	}
	if req.State.Terminal() {
		return l.copyLocked(req), nil
	}

	now := time.Now().UTC()
	req.State = to
	req.DecidedAt = &now

	l.logger.Info("Approval decided",
		zap.String("request_id", id),
		zap.String("state", string(to)))
	return l.copyLocked(req), nil
}

// ApproveAll approves every PENDING request and returns how many it
// touched.
func (l *Ledger) ApproveAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, req := range l.requests {
		if req.State != StatePending {
			continue
		}
		req.State = StateApproved
		decidedAt := now
		req.DecidedAt = &decidedAt
		count++
	}
	if count > 0 {
		l.logger.Info("Approved all pending requests", zap.Int("count", count))
	}
	return count
}

// CheckTimeouts retires every PENDING request older than the ledger
// TTL to TIMEOUT and returns how many it retired.
func (l *Ledger) CheckTimeouts() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, req := range l.requests {
		if req.State != StatePending {
			continue
		}
		if now.Sub(req.CreatedAt) <= l.ttl {
			continue
		}
		req.State = StateTimeout
		decidedAt := now
		req.DecidedAt = &decidedAt
		count++
		l.logger.Warn("Approval request timed out",
			zap.String("request_id", req.ID),
			zap.String("tool", req.Tool))
	}
	return count
}

// Get returns a snapshot of one request.
func (l *Ledger) Get(id string) (*Request, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	req, ok := l.requests[id]
	if !ok {
		return nil, errors.NotFound("approval request", id)
	}
	return l.copyLocked(req), nil
}

// ListPending returns snapshots of all PENDING requests, oldest first.
func (l *Ledger) ListPending() []*Request {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var pending []*Request
	for _, req := range l.requests {
		if req.State == StatePending {
			pending = append(pending, l.copyLocked(req))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// Wait blocks until the request leaves PENDING, polling the ledger at
// the configured interval. It returns the terminal state, or
// StateTimeout when the overall wait window elapses first — callers
// treat that exactly like a rejection. The ledger entry itself is only
// retired by CheckTimeouts, so the state stays observable.
func (l *Ledger) Wait(ctx context.Context, id string) (RequestState, error) {
	req, err := l.Get(id)
	if err != nil {
		return "", err
	}
	if req.State.Terminal() {
		return req.State, nil
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	deadline := time.After(l.waitTimeout)

	for {
		select {
		case <-ctx.Done():
			return StateTimeout, ctx.Err()
		case <-deadline:
			return StateTimeout, nil
		case <-ticker.C:
			req, err := l.Get(id)
			if err != nil {
				return "", err
			}
			if req.State.Terminal() {
				return req.State, nil
			}
		}
	}
}

// copyLocked snapshots a request so callers never share ledger-owned
// memory. Caller must hold at least the read lock.
func (l *Ledger) copyLocked(req *Request) *Request {
	snapshot := *req
	if req.DecidedAt != nil {
		decidedAt := *req.DecidedAt
		snapshot.DecidedAt = &decidedAt
	}
	return &snapshot
}
