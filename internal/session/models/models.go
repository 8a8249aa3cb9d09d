// Package models defines the session domain types shared by the
// lifecycle service, the persistence layer, and the command surface.
package models

import (
	"encoding/json"
	"time"
)

// SessionStatus represents the lifecycle state of a coding session.
type SessionStatus string

const (
	// StatusCreated is the initial state of a freshly registered session.
	StatusCreated SessionStatus = "CREATED"
	// StatusActive means the session owns a running CLI subprocess.
	StatusActive SessionStatus = "ACTIVE"
	// StatusPaused means the session is suspended but resumable.
	StatusPaused SessionStatus = "PAUSED"
	// StatusTerminated is the terminal state. Terminated sessions are
	// kept for history and never transition anywhere else.
	StatusTerminated SessionStatus = "TERMINATED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusActive, StatusPaused, StatusTerminated:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle graph allows moving
// from s to next. Self-loops are legal for ACTIVE, PAUSED and
// TERMINATED; CREATED never repeats.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusCreated:
		return next == StatusActive || next == StatusTerminated
	case StatusActive:
		return next == StatusActive || next == StatusPaused || next == StatusTerminated
	case StatusPaused:
		return next == StatusPaused || next == StatusActive || next == StatusTerminated
	case StatusTerminated:
		return next == StatusTerminated
	}
	return false
}

const (
	// ActivityLogKey is the context key holding the rolling activity log.
	ActivityLogKey = "activity_log"
	// RecoveredAtKey is the context key stamped by crash recovery.
	RecoveredAtKey = "recovered_at"
	// MaxActivityEntries bounds the rolling activity log.
	MaxActivityEntries = 10
)

// ActivityEntry is a single record in a session's rolling activity log.
type ActivityEntry struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Details   string `json:"details"`
}

// Session represents one project-scoped conversation with a CLI agent.
type Session struct {
	ID          string                 `json:"id"`
	ProjectPath string                 `json:"project_path"`
	ThreadID    string                 `json:"thread_id"`
	Status      SessionStatus          `json:"status"`
	Context     map[string]interface{} `json:"context,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// ActivityLog decodes the rolling activity log out of the session
// context. The context round-trips through JSON, so entries may be
// typed ActivityEntry (fresh) or generic maps (loaded); both decode.
func (s *Session) ActivityLog() []ActivityEntry {
	if s.Context == nil {
		return nil
	}
	raw, ok := s.Context[ActivityLogKey]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var entries []ActivityEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

// AppendActivity records an activity entry stamped with the current
// UTC time and truncates the log to the most recent MaxActivityEntries.
func (s *Session) AppendActivity(entryType, details string) {
	if s.Context == nil {
		s.Context = make(map[string]interface{})
	}
	entries := append(s.ActivityLog(), ActivityEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      entryType,
		Details:   details,
	})
	if len(entries) > MaxActivityEntries {
		entries = entries[len(entries)-MaxActivityEntries:]
	}
	s.Context[ActivityLogKey] = entries
}

// ClearActivityLog drops the rolling activity log from the context.
func (s *Session) ClearActivityLog() {
	if s.Context == nil {
		return
	}
	delete(s.Context, ActivityLogKey)
}

// ToAPI converts the session to its wire representation for the
// status API and bus payloads.
func (s *Session) ToAPI() map[string]interface{} {
	return map[string]interface{}{
		"id":           s.ID,
		"project_path": s.ProjectPath,
		"thread_id":    s.ThreadID,
		"status":       string(s.Status),
		"context":      s.Context,
		"created_at":   s.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":   s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
