package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events"
	"github.com/drawbridge/drawbridge/internal/events/bus"
)

// ManagerConfig tunes the resilient gateway client.
type ManagerConfig struct {
	BufferSize        int
	RatePerMinute     int
	Burst             int
	PenaltyBase       time.Duration
	PenaltyMax        time.Duration
	Cooldown          time.Duration
	ReconnectMaxDelay time.Duration
}

// Status is a point-in-time transport snapshot for the status API.
type Status struct {
	State           ConnState   `json:"state"`
	Attempt         int         `json:"attempt"`
	Buffer          BufferStats `json:"buffer"`
	EscalationLevel int         `json:"escalation_level"`
}

// Manager is the resilient gateway client. It composes a Dialer with the
// connection state machine, the outbound buffer and the rate limiter, and
// keeps the link alive across drops with exponential backoff.
type Manager struct {
	dialer   Dialer
	fsm      *StateMachine
	outbox   *Outbox
	limiter  *Limiter
	logger   *logger.Logger
	eventBus bus.EventBus

	maxDelay time.Duration
	backoff  func(attempt int) time.Duration

	// syncFn is installed by the daemon before Connect.
	syncFn SyncFunc

	events chan Inbound

	mu      sync.Mutex
	conn    Conn
	started bool

	dropped   chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewManager creates the resilient client around the given dialer.
func NewManager(dialer Dialer, cfg ManagerConfig, eventBus bus.EventBus, log *logger.Logger) *Manager {
	maxDelay := cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultReconnectMaxDelay
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer: dialer,
		fsm:    NewStateMachine(),
		outbox: NewOutbox(cfg.BufferSize, log),
		limiter: NewLimiter(LimiterConfig{
			RatePerMinute: cfg.RatePerMinute,
			Burst:         cfg.Burst,
			PenaltyBase:   cfg.PenaltyBase,
			PenaltyMax:    cfg.PenaltyMax,
			Cooldown:      cfg.Cooldown,
		}),
		logger:    log.WithComponent("transport"),
		eventBus:  eventBus,
		maxDelay:  maxDelay,
		events:    make(chan Inbound, 64),
		dropped:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	m.backoff = func(attempt int) time.Duration {
		return BackoffCapped(attempt, m.maxDelay)
	}
	return m
}

// SetSyncFunc installs the catch-up hook. Must be called before Connect.
func (m *Manager) SetSyncFunc(fn SyncFunc) {
	m.syncFn = fn
}

// Connect dials the gateway and starts the reconnect monitor. When the
// first dial fails the monitor keeps retrying in the background and the
// error is returned so the caller can log it.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	var connectErr error
	if err := m.transition(StateReconnecting); err != nil {
		connectErr = err
	} else {
		connectErr = m.connectOnce(ctx, false)
	}

	go m.monitor()
	if connectErr != nil {
		m.signalDrop()
	}
	return connectErr
}

// Disconnect stops the monitor, closes the link and settles the state
// machine in DISCONNECTED.
func (m *Manager) Disconnect() error {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.runCancel()
	})

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}

	m.closeConn()
	switch m.fsm.State() {
	case StateSyncing:
		_ = m.transition(StateConnected)
		_ = m.transition(StateDisconnected)
	case StateConnected, StateReconnecting:
		_ = m.transition(StateDisconnected)
	}
	m.logger.Info("transport disconnected")
	return nil
}

// SendMessage delivers text to a thread. While the link is down the
// message lands in the outbound buffer and is drained on reconnect.
func (m *Manager) SendMessage(ctx context.Context, recipient, text string) error {
	if recipient == "" {
		return errors.ValidationError("recipient", "recipient is required")
	}

	if m.fsm.State() != StateConnected {
		m.outbox.Enqueue(Message{Recipient: recipient, Text: text})
		return nil
	}

	if err := m.sendDirect(ctx, recipient, text); err != nil {
		// The link is likely dropping; keep the message for the drain.
		m.logger.Warn("send failed, buffering message", zap.Error(err))
		m.outbox.Enqueue(Message{Recipient: recipient, Text: text})
	}
	return nil
}

// SendAttachment delivers a file to a thread. Attachments are not
// buffered: sending while the link is down fails fast.
func (m *Manager) SendAttachment(ctx context.Context, recipient, caption, filename string, payload []byte) error {
	if recipient == "" {
		return errors.ValidationError("recipient", "recipient is required")
	}
	if m.fsm.State() != StateConnected {
		return errors.TransportTransient("gateway link is down, attachment not sent", nil)
	}

	conn := m.currentConn()
	if conn == nil {
		return errors.TransportTransient("no gateway connection", nil)
	}
	if err := m.limiter.Acquire(ctx); err != nil {
		return errors.TransportTransient("rate limiter interrupted", err)
	}
	return conn.SendAttachment(ctx, recipient, caption, filename, payload)
}

// Events returns the inbound message stream. The channel stays open for
// the life of the manager, across reconnects.
func (m *Manager) Events() <-chan Inbound {
	return m.events
}

// IsConnected reports whether the link is up and idle.
func (m *Manager) IsConnected() bool {
	return m.fsm.State() == StateConnected
}

// Status returns a snapshot of the link state and counters.
func (m *Manager) Status() Status {
	state, attempt := m.fsm.Snapshot()
	return Status{
		State:           state,
		Attempt:         attempt,
		Buffer:          m.outbox.Stats(),
		EscalationLevel: m.limiter.Level(),
	}
}

// monitor owns all state transitions after startup: it reacts to drop
// signals from the connection pumps and drives the reconnect loop.
func (m *Manager) monitor() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case <-m.dropped:
			m.handleDrop()
		}
	}
}

func (m *Manager) handleDrop() {
	m.closeConn()
	if m.fsm.State() == StateConnected {
		_ = m.transition(StateDisconnected)
		m.logger.Warn("gateway connection lost")
	}

	for {
		select {
		case <-m.stop:
			return
		default:
		}

		if err := m.transition(StateReconnecting); err != nil {
			m.logger.Error("unexpected transport state during reconnect", zap.Error(err))
			return
		}
		attempt := m.fsm.Attempt()
		wait := m.backoff(attempt)
		m.logger.Info("reconnecting to gateway",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))

		select {
		case <-m.stop:
			return
		case <-time.After(wait):
		}

		if err := m.connectOnce(m.runCtx, true); err != nil {
			m.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return
	}
}

// connectOnce dials from RECONNECTING. Success installs the connection,
// enters CONNECTED and runs the sync phase; failure settles back in
// DISCONNECTED.
func (m *Manager) connectOnce(ctx context.Context, reconnected bool) error {
	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		_ = m.transition(StateDisconnected)
		return errors.TransportTransient("gateway dial failed", err)
	}

	m.install(conn)
	_ = m.transition(StateConnected)
	m.logger.Info("connected to gateway", zap.Bool("reconnected", reconnected))
	m.syncAndDrain(ctx, reconnected)
	return nil
}

// syncAndDrain walks CONNECTED→SYNCING→CONNECTED when there is catch-up
// work: summaries for sessions that stayed active while the link was
// down go out first, then the buffered backlog.
func (m *Manager) syncAndDrain(ctx context.Context, reconnected bool) {
	var summaries []Catchup
	if m.syncFn != nil {
		var err error
		summaries, err = m.syncFn(ctx)
		if err != nil {
			m.logger.Warn("catch-up sync failed", zap.Error(err))
		}
	}

	sent := 0
	if len(summaries) > 0 || m.outbox.Len() > 0 {
		if err := m.transition(StateSyncing); err == nil {
			for _, cu := range summaries {
				if err := m.sendDirect(ctx, cu.ThreadID, cu.Text); err != nil {
					m.logger.Warn("failed to send catch-up summary",
						zap.String("thread_id", cu.ThreadID),
						zap.Error(err))
				}
			}

			var failed int
			sent, failed = m.outbox.Drain(func(msg Message) error {
				return m.sendDirect(ctx, msg.Recipient, msg.Text)
			})
			if sent+failed > 0 {
				m.logger.Info("drained outbound buffer",
					zap.Int("sent", sent),
					zap.Int("failed", failed))
			}
			_ = m.transition(StateConnected)
		}
	}

	if reconnected {
		details := "Connection restored."
		if sent > 0 {
			details = fmt.Sprintf("Connection restored. Delivered %d buffered message(s).", sent)
		}
		m.publish(events.NotifyEvent, map[string]interface{}{
			"event_type": "reconnection",
			"details":    details,
		})
	}
}

// sendDirect puts one message on the wire, honoring the rate limiter.
func (m *Manager) sendDirect(ctx context.Context, recipient, text string) error {
	conn := m.currentConn()
	if conn == nil {
		return errors.TransportTransient("no gateway connection", nil)
	}
	if err := m.limiter.Acquire(ctx); err != nil {
		return errors.TransportTransient("rate limiter interrupted", err)
	}
	return conn.SendText(ctx, recipient, text)
}

// transition moves the state machine and publishes the change.
func (m *Manager) transition(to ConnState) error {
	from := m.fsm.State()
	if err := m.fsm.Transition(to); err != nil {
		return err
	}
	m.logger.Debug("transport state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	m.publish(events.TransportStateChanged, map[string]interface{}{
		"from":    string(from),
		"to":      string(to),
		"attempt": m.fsm.Attempt(),
	})
	return nil
}

func (m *Manager) publish(eventType string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	_ = m.eventBus.Publish(context.Background(), eventType, bus.NewEvent(eventType, events.SourceTransport, data))
}

// install records the live connection and starts its inbound pump.
func (m *Manager) install(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	go m.pump(conn)
}

// pump copies inbound messages onto the persistent events channel until
// the connection drops, then signals the monitor.
func (m *Manager) pump(conn Conn) {
	for msg := range conn.Inbound() {
		select {
		case m.events <- msg:
		case <-m.stop:
			return
		}
	}
	m.signalDrop()
}

func (m *Manager) signalDrop() {
	select {
	case m.dropped <- struct{}{}:
	default:
	}
}

func (m *Manager) currentConn() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
