// Package notify decides whether an event reaches the user's phone and
// renders the push text when it does. Urgency is total-ordered: URGENT
// events always go out and cannot be muted, SILENT ones never do, and
// the two middle classes consult per-thread preferences.
package notify

import "strings"

// Urgency classifies notification events from always-delivered to never.
type Urgency int

const (
	Urgent        Urgency = iota // always delivered
	Important                    // delivered unless disabled
	Informational                // delivered only when enabled
	Silent                       // never delivered
)

// Event types the pipeline recognizes. Unknown types fall back to
// Informational.
const (
	EventError          = "error"
	EventApprovalNeeded = "approval_needed"
	EventCompletion     = "completion"
	EventReconnection   = "reconnection"
	EventProgress       = "progress"
)

// MaxLength caps rendered notification text.
const MaxLength = 300

func (u Urgency) String() string {
	switch u {
	case Urgent:
		return "URGENT"
	case Important:
		return "IMPORTANT"
	case Informational:
		return "INFORMATIONAL"
	case Silent:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

// Categorize maps an event type to its urgency class.
func Categorize(eventType string) Urgency {
	switch eventType {
	case EventError, EventApprovalNeeded:
		return Urgent
	case EventCompletion, EventReconnection:
		return Important
	case EventProgress:
		return Informational
	default:
		return Informational
	}
}

// DefaultEnabled is the delivery default when no explicit preference
// exists for the pair (thread, event type).
func DefaultEnabled(u Urgency) bool {
	return u == Urgent || u == Important
}

var urgencyEmoji = map[Urgency]string{
	Urgent:        "🚨",
	Important:     "🔔",
	Informational: "ℹ️",
}

var eventHeaders = map[string]string{
	EventError:          "Error",
	EventApprovalNeeded: "Approval needed",
	EventCompletion:     "Task complete",
	EventReconnection:   "Reconnected",
	EventProgress:       "Progress",
}

// FormatMessage renders the push text for an event: urgency emoji, a
// typed header and the detail summary, truncated to MaxLength. Silent
// events render as the empty string.
func FormatMessage(eventType, details string) string {
	urgency := Categorize(eventType)
	if urgency == Silent {
		return ""
	}

	header, ok := eventHeaders[eventType]
	if !ok {
		header = humanize(eventType)
	}

	msg := urgencyEmoji[urgency] + " " + header
	if details != "" {
		msg += ": " + details
	}
	return Truncate(msg, MaxLength)
}

// Truncate caps text at max runes, ending oversized text with an
// ellipsis.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}

func humanize(eventType string) string {
	s := strings.ReplaceAll(strings.TrimSpace(eventType), "_", " ")
	if s == "" {
		return "Notification"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
