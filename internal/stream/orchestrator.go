package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/approval"
	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/format"
	"github.com/drawbridge/drawbridge/internal/notify"
)

// Bridge is the stdio link to one child process.
type Bridge interface {
	SendCommand(text string) error
	Lines() <-chan string
}

// BridgeProvider resolves the bridge of an active session.
type BridgeProvider interface {
	BridgeFor(sessionID string) (Bridge, error)
}

// Sender delivers outbound text and files to the remote user.
type Sender interface {
	SendMessage(ctx context.Context, recipient, text string) error
	SendAttachment(ctx context.Context, recipient, caption, filename string, payload []byte) error
}

// Notifier pushes lifecycle events through the notification pipeline.
type Notifier interface {
	Notify(ctx context.Context, eventType, details, threadID, sessionID string) bool
}

// EmergencyChecker reports whether emergency mode is active.
type EmergencyChecker interface {
	Active(ctx context.Context) (bool, error)
}

// ActivityTracker records session activity for catch-up summaries.
type ActivityTracker interface {
	TrackActivity(ctx context.Context, id, entryType, details string) error
}

// Config tunes the streaming loop.
type Config struct {
	BatchInterval time.Duration // flush cadence for buffered events
	TurnIdle      time.Duration // output quiescence that ends a turn
	AttachDir     string        // where attachment payloads materialize
	WarnSize      int64         // attachment bytes that trigger a warning
	MaxSize       int64         // attachment bytes that reject the send
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Bridges   BridgeProvider
	Approvals *approval.Ledger
	Emergency EmergencyChecker
	Formatter *format.Formatter
	Sender    Sender
	Notifier  Notifier
	Activity  ActivityTracker
	Display   *DisplayPrefs
}

// Orchestrator runs one command turn at a time per session: write the
// command to the child, classify each output line, gate destructive
// tools behind approval, batch formatted events and deliver them to
// the thread. All outbound traffic is addressed by thread id.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *logger.Logger

	mu   sync.Mutex
	busy map[string]bool
}

// NewOrchestrator builds the streaming pipeline.
func NewOrchestrator(deps Deps, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 500 * time.Millisecond
	}
	if cfg.TurnIdle <= 0 {
		cfg.TurnIdle = 2 * time.Second
	}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		log:  log.WithComponent("stream"),
		busy: make(map[string]bool),
	}
}

// Busy reports whether a command is currently streaming for the session.
func (o *Orchestrator) Busy(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy[sessionID]
}

// Dispatch claims the session's command slot and streams in the
// background. A busy session rejects immediately so the router can
// reply to the user.
func (o *Orchestrator) Dispatch(ctx context.Context, sessionID, threadID, command string) error {
	if !o.acquire(sessionID) {
		return errors.ValidationError("session", "a command is already running for this session")
	}
	go func() {
		defer o.release(sessionID)
		if err := o.stream(ctx, sessionID, threadID, command); err != nil {
			o.log.WithSessionID(sessionID).WithError(err).Warn("command turn ended with error")
		}
	}()
	return nil
}

// Run streams a command synchronously. Same slot semantics as Dispatch.
func (o *Orchestrator) Run(ctx context.Context, sessionID, threadID, command string) error {
	if !o.acquire(sessionID) {
		return errors.ValidationError("session", "a command is already running for this session")
	}
	defer o.release(sessionID)
	return o.stream(ctx, sessionID, threadID, command)
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy[sessionID] {
		return false
	}
	o.busy[sessionID] = true
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.busy, sessionID)
}

// turn is the mutable state of one streaming command. pending holds
// consecutive raw response lines; they render as one block so diff
// detection and attachment sizing see whole payloads instead of
// single lines.
type turn struct {
	sessionID string
	threadID  string
	batch     []string
	pending   []string
	lastFlush time.Time
	log       *logger.Logger
}

func (t *turn) append(text string) {
	if text == "" {
		return
	}
	t.batch = append(t.batch, text)
}

func (o *Orchestrator) stream(ctx context.Context, sessionID, threadID, command string) error {
	t := &turn{
		sessionID: sessionID,
		threadID:  threadID,
		lastFlush: time.Now(),
		log:       o.log.WithSessionID(sessionID).WithThreadID(threadID),
	}

	if o.deps.Activity != nil {
		if err := o.deps.Activity.TrackActivity(ctx, sessionID, "command", command); err != nil {
			t.log.WithError(err).Warn("failed to track command activity")
		}
	}

	bridge, err := o.deps.Bridges.BridgeFor(sessionID)
	if err != nil {
		o.send(ctx, threadID, o.deps.Formatter.Error("No agent process is running for this session."))
		return err
	}

	if err := bridge.SendCommand(command); err != nil {
		o.send(ctx, threadID, o.deps.Formatter.Error("Failed to send command: "+errors.UserMessage(err)))
		o.deps.Notifier.Notify(ctx, notify.EventError, errors.UserMessage(err), threadID, sessionID)
		return err
	}
	t.log.Debug("command written to child", zap.Int("length", len(command)))

	ticker := time.NewTicker(o.cfg.BatchInterval)
	defer ticker.Stop()

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	defer func() {
		if idleTimer != nil {
			idleTimer.Stop()
		}
	}()
	resetIdle := func() {
		if idleTimer == nil {
			idleTimer = time.NewTimer(o.cfg.TurnIdle)
			idleC = idleTimer.C
			return
		}
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(o.cfg.TurnIdle)
	}

	for {
		select {
		case <-ctx.Done():
			o.flushAll(ctx, t)
			return ctx.Err()

		case line, ok := <-bridge.Lines():
			if !ok {
				o.finish(ctx, t, command)
				return nil
			}
			if err := o.handleLine(ctx, t, line); err != nil {
				o.flushAll(ctx, t)
				return err
			}
			if time.Since(t.lastFlush) >= o.cfg.BatchInterval {
				o.flushAll(ctx, t)
			}
			// Arm the idle window only after the line is fully
			// handled; approval waits must not count as quiet time.
			resetIdle()

		case <-ticker.C:
			if time.Since(t.lastFlush) >= o.cfg.BatchInterval {
				o.flushAll(ctx, t)
			}

		// idleC stays nil until the first line arms it, so a turn
		// can only idle out after producing output.
		case <-idleC:
			o.finish(ctx, t, command)
			return nil
		}
	}
}

// finish flushes the tail of the turn and emits the completion
// notification.
func (o *Orchestrator) finish(ctx context.Context, t *turn, command string) {
	o.flushAll(ctx, t)
	o.deps.Notifier.Notify(ctx, notify.EventCompletion, command, t.threadID, t.sessionID)
	t.log.Debug("command turn complete")
}

// handleLine classifies one line, gates tool calls and appends the
// formatted event to the batch. Response lines are only buffered here;
// they render as one block when something else interrupts them. Only
// approval waits can return an error, and only when the daemon is
// shutting down.
func (o *Orchestrator) handleLine(ctx context.Context, t *turn, line string) error {
	switch ev := Classify(line).(type) {
	case ToolCall:
		o.drainResponse(ctx, t)
		if err := o.gate(ctx, t, ev); err != nil {
			return err
		}
		t.append(o.deps.Formatter.ToolCall(ev.Tool, ev.Target, ev.Command))

	case Progress:
		o.drainResponse(ctx, t)
		t.append(o.deps.Formatter.Progress(ev.Message))

	case ErrorEvent:
		o.drainResponse(ctx, t)
		t.append(o.deps.Formatter.Error(ev.Message))

	case Response:
		t.pending = append(t.pending, ev.Text)
	}
	return nil
}

// gate pauses the stream for destructive tools until the user decides.
// Safe tools pass straight through; in emergency mode they are
// auto-approved without a ledger entry, which amounts to the same
// thing. The decision is advisory: child output resumes either way.
func (o *Orchestrator) gate(ctx context.Context, t *turn, ev ToolCall) error {
	decision, reason := approval.ClassifyOperation(ev.Tool)
	if decision == approval.Safe {
		if active, err := o.deps.Emergency.Active(ctx); err == nil && active {
			t.log.Debug("emergency mode auto-approved safe tool", zap.String("tool", ev.Tool))
		}
		return nil
	}

	req := o.deps.Approvals.Request(ev.Tool, ev.Subject(), reason)
	t.log.Info("approval requested",
		zap.String("request_id", req.ID),
		zap.String("tool", ev.Tool),
		zap.String("target", ev.Subject()))

	// Flush before prompting so the question arrives after the output
	// that led to it.
	o.flush(ctx, t)
	o.send(ctx, t.threadID, o.deps.Formatter.ApprovalPrompt(req.Tool, req.Target, req.Reason, req.ID))

	state, err := o.deps.Approvals.Wait(ctx, req.ID)
	if err != nil {
		return err
	}
	switch state {
	case approval.StateApproved:
		o.send(ctx, t.threadID, o.deps.Formatter.ApprovalApproved(ev.Tool, ev.Subject()))
	case approval.StateRejected:
		o.send(ctx, t.threadID, o.deps.Formatter.ApprovalRejected(ev.Tool, ev.Subject()))
	default:
		o.send(ctx, t.threadID, o.deps.Formatter.ApprovalTimedOut(ev.Tool, ev.Subject()))
	}
	return nil
}

// drainResponse renders the buffered response block, diverting
// oversized payloads into a materialized attachment.
func (o *Orchestrator) drainResponse(ctx context.Context, t *turn) {
	if len(t.pending) == 0 {
		return
	}
	text := strings.Join(t.pending, "\n")
	t.pending = t.pending[:0]

	fullCode := o.deps.Display != nil && o.deps.Display.FullCode(t.threadID)
	rendered := o.deps.Formatter.Response(text, fullCode)
	if !rendered.Attach {
		t.append(rendered.Text)
		return
	}

	// Ship buffered events first so the attachment lands in order.
	o.flush(ctx, t)
	if notice := o.attach(ctx, t, rendered); notice != "" {
		t.append(notice)
	}
}

// attach writes the payload under the attachments dir and sends it.
// The returned text, if any, is an error notice for the batch; on
// success the attachment caption itself carries the confirmation.
func (o *Orchestrator) attach(ctx context.Context, t *turn, r format.Rendered) string {
	payload := []byte(r.AttachBody)
	size := int64(len(payload))
	if o.cfg.MaxSize > 0 && size > o.cfg.MaxSize {
		t.log.Warn("attachment rejected", zap.Int64("bytes", size), zap.Int64("max", o.cfg.MaxSize))
		return o.deps.Formatter.Error(fmt.Sprintf(
			"Output too large to attach (%d MB, limit %d MB).", size>>20, o.cfg.MaxSize>>20))
	}
	if o.cfg.WarnSize > 0 && size > o.cfg.WarnSize {
		t.log.Warn("attachment exceeds warning size", zap.Int64("bytes", size))
	}

	filename := fmt.Sprintf("%s_%d.txt", r.AttachHint, time.Now().UnixNano())
	if o.cfg.AttachDir != "" {
		if err := os.MkdirAll(o.cfg.AttachDir, 0o755); err != nil {
			t.log.WithError(err).Error("failed to create attachments dir")
			return o.deps.Formatter.Error("Failed to materialize attachment: " + err.Error())
		}
		if err := os.WriteFile(filepath.Join(o.cfg.AttachDir, filename), payload, 0o644); err != nil {
			t.log.WithError(err).Error("failed to write attachment")
			return o.deps.Formatter.Error("Failed to materialize attachment: " + err.Error())
		}
	}

	caption := strings.ReplaceAll(r.Text, format.AttachmentPlaceholder, filename)
	if err := o.deps.Sender.SendAttachment(ctx, t.threadID, caption, filename, payload); err != nil {
		t.log.WithError(err).Warn("attachment send failed")
		return o.deps.Formatter.Error("Failed to send attachment: " + errors.UserMessage(err))
	}
	t.log.Debug("attachment sent", zap.String("filename", filename), zap.Int64("bytes", size))
	return ""
}

// flushAll renders any pending response block, then ships the batch.
func (o *Orchestrator) flushAll(ctx context.Context, t *turn) {
	o.drainResponse(ctx, t)
	o.flush(ctx, t)
}

// flush joins the batch with newlines and sends it as one message.
func (o *Orchestrator) flush(ctx context.Context, t *turn) {
	t.lastFlush = time.Now()
	if len(t.batch) == 0 {
		return
	}
	text := strings.Join(t.batch, "\n")
	t.batch = t.batch[:0]
	o.send(ctx, t.threadID, text)
}

// send chunks text to transport size and delivers each piece to the
// thread. Send failures are logged, not fatal: the transport manager
// buffers while disconnected, so an error here is already past retry.
func (o *Orchestrator) send(ctx context.Context, threadID, text string) {
	if text == "" {
		return
	}
	for _, chunk := range o.deps.Formatter.Chunk(text) {
		if err := o.deps.Sender.SendMessage(ctx, threadID, chunk); err != nil {
			o.log.WithThreadID(threadID).WithError(err).Warn("outbound send failed")
		}
	}
}
