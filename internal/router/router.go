// Package router dispatches inbound messages from the remote user.
// Exactly one identity is authorized; everything else is dropped
// without a reply. Recognized command prefixes are consulted in a
// fixed priority order, and anything unrecognized is forwarded to the
// stream orchestrator as an assistant-bound command for the thread's
// active session.
package router

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/approval"
	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/emergency"
	"github.com/drawbridge/drawbridge/internal/session/lifecycle"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
	"github.com/drawbridge/drawbridge/internal/stream"
	"github.com/drawbridge/drawbridge/internal/tracing"
)

// Streamer forwards assistant-bound text into a session's command turn.
type Streamer interface {
	Dispatch(ctx context.Context, sessionID, threadID, command string) error
	Busy(sessionID string) bool
}

// ProcessManager controls per-session child processes.
type ProcessManager interface {
	StartSession(sessionID, projectPath string) error
	StopSession(sessionID string) error
	IsRunning(sessionID string) bool
}

// NotifyControl is the preference surface of the notification manager.
type NotifyControl interface {
	SetPreference(ctx context.Context, threadID, eventType string, enabled bool) error
	Preferences(ctx context.Context, threadID string) (map[string]bool, error)
}

// Deps are the subsystems the router dispatches into.
type Deps struct {
	Approvals *approval.Ledger
	Emergency *emergency.Service
	Notify    NotifyControl
	Commands  *storage.CommandStore
	Threads   *storage.ThreadStore
	Sessions  *lifecycle.Service
	Processes ProcessManager
	Streamer  Streamer
	Display   *stream.DisplayPrefs
}

// Router owns the inbound dispatch order.
type Router struct {
	authorized string
	deps       Deps
	tracer     trace.Tracer
	log        *logger.Logger
}

// New builds a router that accepts traffic only from authorizedThread.
func New(authorizedThread string, deps Deps, log *logger.Logger) *Router {
	return &Router{
		authorized: authorizedThread,
		deps:       deps,
		tracer:     tracing.Tracer("router"),
		log:        log.WithComponent("router"),
	}
}

// Command kinds, in dispatch priority order.
const (
	kindApproval  = "approval"
	kindEmergency = "emergency"
	kindNotify    = "notify"
	kindCustom    = "custom"
	kindThread    = "thread"
	kindCode      = "code"
	kindSession   = "session"
	kindMessage   = "message"
)

// Dispatch routes one inbound message and returns the reply text, if
// any. An empty reply means either the message was dropped, or a
// subsystem (the orchestrator) answers on its own schedule.
func (r *Router) Dispatch(ctx context.Context, threadID, text string) string {
	if threadID != r.authorized {
		r.log.Warn("dropped message from unauthorized sender", zap.String("thread_id", threadID))
		return ""
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	fields := strings.Fields(text)
	kind := commandKind(fields[0])

	ctx, span := r.tracer.Start(ctx, "router."+kind,
		trace.WithAttributes(attribute.String("command.kind", kind)))
	defer span.End()

	switch kind {
	case kindApproval:
		return r.handleApproval(fields)
	case kindEmergency:
		return r.handleEmergency(ctx, threadID, fields)
	case kindNotify:
		return r.handleNotify(ctx, threadID, fields)
	case kindCustom:
		return r.handleCustom(ctx, threadID, fields)
	case kindThread:
		return r.handleThread(ctx, threadID, fields)
	case kindCode:
		return r.handleCode(threadID, fields)
	case kindSession:
		return r.handleSession(ctx, threadID, fields)
	default:
		return r.forward(ctx, threadID, text)
	}
}

func commandKind(head string) string {
	switch strings.ToLower(head) {
	case "approve", "reject":
		return kindApproval
	case "/emergency":
		return kindEmergency
	case "/notify":
		return kindNotify
	case "/custom":
		return kindCustom
	case "/thread":
		return kindThread
	case "/code":
		return kindCode
	case "/session":
		return kindSession
	default:
		return kindMessage
	}
}

// forward hands plain text to the orchestrator for the thread's active
// session. The orchestrator streams its own replies, so success returns
// nothing.
func (r *Router) forward(ctx context.Context, threadID, text string) string {
	session, err := r.deps.Sessions.ActiveForThread(ctx, threadID)
	if err != nil {
		if errors.IsNotFound(err) {
			return "No active session. Start one with /session start <path>."
		}
		r.log.WithError(err).Error("active session lookup failed")
		return errors.UserMessage(err)
	}

	if err := r.deps.Streamer.Dispatch(ctx, session.ID, threadID, text); err != nil {
		return errors.UserMessage(err)
	}
	return ""
}
