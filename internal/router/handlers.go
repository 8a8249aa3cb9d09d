package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/commands"
	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/format"
	"github.com/drawbridge/drawbridge/internal/notify"
	"github.com/drawbridge/drawbridge/internal/session/models"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

// handleApproval resolves approve/reject commands against the ledger.
// Single-request decisions return no reply: the orchestrator goroutine
// blocked on that request sends the confirmation, and a second message
// here would double it up.
func (r *Router) handleApproval(fields []string) string {
	verb := strings.ToLower(fields[0])
	if len(fields) < 2 {
		return "Usage: approve <id> | reject <id> | approve all"
	}
	arg := fields[1]

	if verb == "approve" && strings.EqualFold(arg, "all") {
		count := r.deps.Approvals.ApproveAll()
		if count == 0 {
			return "No pending approvals."
		}
		return fmt.Sprintf("Approved %d pending %s.", count, plural(count, "request", "requests"))
	}

	var err error
	if verb == "approve" {
		_, err = r.deps.Approvals.Approve(arg)
	} else {
		_, err = r.deps.Approvals.Reject(arg)
	}
	if err != nil {
		return errors.UserMessage(err)
	}
	return ""
}

func (r *Router) handleEmergency(ctx context.Context, threadID string, fields []string) string {
	sub := subcommand(fields)
	switch sub {
	case "activate":
		state, changed, err := r.deps.Emergency.Activate(ctx, threadID)
		if err != nil {
			return errors.UserMessage(err)
		}
		if !changed {
			return "Emergency mode is already active" + emergencySince(state) + "."
		}
		return "🚨 Emergency mode activated. Safe tools now run without approval; destructive tools still ask."

	case "deactivate":
		changed, err := r.deps.Emergency.Deactivate(ctx)
		if err != nil {
			return errors.UserMessage(err)
		}
		if !changed {
			return "Emergency mode is not active."
		}
		return "Emergency mode deactivated. Normal approval rules apply."

	case "status":
		state, err := r.deps.Emergency.Status(ctx)
		if err != nil {
			return errors.UserMessage(err)
		}
		return "Emergency mode: " + state.Status.String() + emergencySince(state) + "."

	default:
		return "Usage: /emergency activate | deactivate | status"
	}
}

// emergencySince renders the activation metadata suffix, or "" while
// the mode is NORMAL.
func emergencySince(state *storage.EmergencyState) string {
	if state == nil || state.ActivatedAt == nil {
		return ""
	}
	suffix := " (since " + state.ActivatedAt.Format(time.RFC3339)
	if state.ActivatedByThread != nil {
		suffix += " by " + format.ShortID(*state.ActivatedByThread)
	}
	return suffix + ")"
}

func (r *Router) handleNotify(ctx context.Context, threadID string, fields []string) string {
	sub := subcommand(fields)
	switch sub {
	case "list":
		prefs, err := r.deps.Notify.Preferences(ctx, threadID)
		if err != nil {
			return errors.UserMessage(err)
		}
		var b strings.Builder
		b.WriteString("Notification preferences:")
		for _, eventType := range notifyOrder {
			b.WriteString(fmt.Sprintf("\n• %s: %s", eventType, onOff(prefs[eventType])))
		}
		return b.String()

	case "enable", "disable":
		if len(fields) < 3 {
			return fmt.Sprintf("Usage: /notify %s <type>", sub)
		}
		eventType := strings.ToLower(fields[2])
		if err := r.deps.Notify.SetPreference(ctx, threadID, eventType, sub == "enable"); err != nil {
			return errors.UserMessage(err)
		}
		return fmt.Sprintf("%s notifications %sd.", eventType, sub)

	default:
		return "Usage: /notify list | enable <type> | disable <type>"
	}
}

// notifyOrder fixes the rendering order of /notify list.
var notifyOrder = []string{
	notify.EventError,
	notify.EventApprovalNeeded,
	notify.EventCompletion,
	notify.EventReconnection,
	notify.EventProgress,
}

func (r *Router) handleCustom(ctx context.Context, threadID string, fields []string) string {
	sub := subcommand(fields)
	switch sub {
	case "list":
		cmds, err := r.deps.Commands.List(ctx)
		if err != nil {
			return errors.UserMessage(err)
		}
		if len(cmds) == 0 {
			return "No custom commands. Drop .md files with YAML front-matter into the commands directory."
		}
		var b strings.Builder
		b.WriteString("Custom commands:")
		for _, cmd := range cmds {
			b.WriteString("\n• " + cmd.Name)
		}
		return b.String()

	case "show":
		if len(fields) < 3 {
			return "Usage: /custom show <name>"
		}
		cmd, err := r.deps.Commands.Get(ctx, fields[2])
		if err != nil {
			return errors.UserMessage(err)
		}
		body, err := commands.Body(cmd.FilePath)
		if err != nil {
			r.log.WithError(err).Warn("failed to read command file", zap.String("name", cmd.Name))
			return fmt.Sprintf("Command file for '%s' could not be read.", cmd.Name)
		}
		return cmd.Name + ":\n" + body

	case "invoke":
		if len(fields) < 3 {
			return "Usage: /custom invoke <name> [args]"
		}
		return r.invokeCustom(ctx, threadID, fields[2], fields[3:])

	default:
		return "Usage: /custom list | show <name> | invoke <name> [args]"
	}
}

// invokeCustom expands a stored command into its prompt body plus any
// trailing arguments and dispatches it like typed input.
func (r *Router) invokeCustom(ctx context.Context, threadID, name string, args []string) string {
	cmd, err := r.deps.Commands.Get(ctx, name)
	if err != nil {
		return errors.UserMessage(err)
	}
	body, err := commands.Body(cmd.FilePath)
	if err != nil {
		r.log.WithError(err).Warn("failed to read command file", zap.String("name", cmd.Name))
		return fmt.Sprintf("Command file for '%s' could not be read.", cmd.Name)
	}

	text := strings.TrimRight(body, "\n")
	if len(args) > 0 {
		text += "\n\n" + strings.Join(args, " ")
	}
	return r.forward(ctx, threadID, text)
}

func (r *Router) handleThread(ctx context.Context, threadID string, fields []string) string {
	sub := subcommand(fields)
	switch sub {
	case "map":
		if len(fields) < 3 {
			return "Usage: /thread map <path>"
		}
		mapping, err := r.deps.Threads.Map(ctx, threadID, fields[2])
		if err != nil {
			return errors.UserMessage(err)
		}
		return "Mapped this thread to " + mapping.ProjectPath + "."

	case "list":
		mappings, err := r.deps.Threads.List(ctx)
		if err != nil {
			return errors.UserMessage(err)
		}
		if len(mappings) == 0 {
			return "No thread mappings."
		}
		var b strings.Builder
		b.WriteString("Thread mappings:")
		for _, m := range mappings {
			b.WriteString(fmt.Sprintf("\n• %s: %s", format.ShortID(m.ThreadID), m.ProjectPath))
		}
		return b.String()

	case "unmap":
		if err := r.deps.Threads.Unmap(ctx, threadID); err != nil {
			return errors.UserMessage(err)
		}
		return "This thread is no longer mapped."

	default:
		return "Usage: /thread map <path> | list | unmap"
	}
}

func (r *Router) handleCode(threadID string, fields []string) string {
	sub := subcommand(fields)
	if sub != "full" {
		return "Usage: /code full"
	}
	if r.deps.Display.ToggleFull(threadID) {
		return "Full code display is on. Code stays inline instead of attaching."
	}
	return "Full code display is off. Long output attaches as files."
}

func (r *Router) handleSession(ctx context.Context, threadID string, fields []string) string {
	sub := subcommand(fields)
	switch sub {
	case "start":
		var path string
		if len(fields) >= 3 {
			path = fields[2]
		}
		return r.startSession(ctx, threadID, path)

	case "list":
		sessions, err := r.deps.Sessions.List(ctx)
		if err != nil {
			return errors.UserMessage(err)
		}
		if len(sessions) == 0 {
			return "No sessions."
		}
		var b strings.Builder
		b.WriteString("Sessions:")
		for _, s := range sessions {
			b.WriteString(fmt.Sprintf("\n• %s %s %s", format.ShortID(s.ID), s.Status, s.ProjectPath))
			if r.deps.Streamer.Busy(s.ID) {
				b.WriteString(" (busy)")
			}
		}
		return b.String()

	case "resume":
		if len(fields) < 3 {
			return "Usage: /session resume <id>"
		}
		return r.resumeSession(ctx, fields[2])

	case "stop":
		if len(fields) < 3 {
			return "Usage: /session stop <id>"
		}
		return r.stopSession(ctx, fields[2])

	default:
		return "Usage: /session start [<path>] | list | resume <id> | stop <id>"
	}
}

// startSession creates and activates a session for the thread, spawning
// its child process. The project path comes from the argument or, when
// omitted, the thread's mapping.
func (r *Router) startSession(ctx context.Context, threadID, path string) string {
	if path == "" {
		mapping, err := r.deps.Threads.Get(ctx, threadID)
		if err != nil {
			if errors.IsNotFound(err) {
				return "No project path. Use /session start <path> or map this thread with /thread map <path>."
			}
			return errors.UserMessage(err)
		}
		path = mapping.ProjectPath
	}

	if existing, err := r.deps.Sessions.ActiveForThread(ctx, threadID); err == nil {
		return fmt.Sprintf("A session is already active for this thread: %s (%s). Stop it first.",
			format.ShortID(existing.ID), existing.ProjectPath)
	} else if !errors.IsNotFound(err) {
		return errors.UserMessage(err)
	}

	session, err := r.deps.Sessions.Create(ctx, path, threadID)
	if err != nil {
		return errors.UserMessage(err)
	}

	if err := r.deps.Processes.StartSession(session.ID, path); err != nil {
		if _, terr := r.deps.Sessions.Transition(ctx, session.ID, models.StatusCreated, models.StatusTerminated); terr != nil {
			r.log.WithError(terr).Error("failed to terminate session after spawn failure",
				zap.String("session_id", session.ID))
		}
		return errors.UserMessage(err)
	}

	if _, err := r.deps.Sessions.Transition(ctx, session.ID, models.StatusCreated, models.StatusActive); err != nil {
		if serr := r.deps.Processes.StopSession(session.ID); serr != nil {
			r.log.WithError(serr).Error("failed to stop child after activation failure",
				zap.String("session_id", session.ID))
		}
		return errors.UserMessage(err)
	}

	return fmt.Sprintf("Session %s started in %s. Send a message to talk to the agent.",
		format.ShortID(session.ID), path)
}

// resumeSession moves a PAUSED session back to ACTIVE and restarts its
// child. The id must be the full session id.
func (r *Router) resumeSession(ctx context.Context, id string) string {
	session, err := r.deps.Sessions.Get(ctx, id)
	if err != nil {
		return errors.UserMessage(err)
	}

	if _, err := r.deps.Sessions.Transition(ctx, id, models.StatusPaused, models.StatusActive); err != nil {
		return errors.UserMessage(err)
	}

	if err := r.deps.Processes.StartSession(id, session.ProjectPath); err != nil {
		if _, terr := r.deps.Sessions.Transition(ctx, id, models.StatusActive, models.StatusPaused); terr != nil {
			r.log.WithError(terr).Error("failed to re-pause session after spawn failure",
				zap.String("session_id", id))
		}
		return errors.UserMessage(err)
	}

	return fmt.Sprintf("Session %s resumed in %s.", format.ShortID(id), session.ProjectPath)
}

// stopSession terminates the session's child, then the session itself.
func (r *Router) stopSession(ctx context.Context, id string) string {
	session, err := r.deps.Sessions.Get(ctx, id)
	if err != nil {
		return errors.UserMessage(err)
	}
	if session.Status == models.StatusTerminated {
		return fmt.Sprintf("Session %s is already stopped.", format.ShortID(id))
	}

	if err := r.deps.Processes.StopSession(id); err != nil {
		return errors.UserMessage(err)
	}

	if _, err := r.deps.Sessions.Transition(ctx, id, session.Status, models.StatusTerminated); err != nil {
		return errors.UserMessage(err)
	}
	return fmt.Sprintf("Session %s stopped.", format.ShortID(id))
}

// subcommand returns the lowercased word after the command prefix, or
// "" when the user typed the bare command.
func subcommand(fields []string) string {
	if len(fields) < 2 {
		return ""
	}
	return strings.ToLower(fields[1])
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
