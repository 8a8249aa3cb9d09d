// Package events provides event types and utilities for the Drawbridge event system.
package events

// Event types for sessions
const (
	SessionCreated      = "session.created"
	SessionTransitioned = "session.transitioned"
	SessionRecovered    = "session.recovered"
)

// Event types for the notification pipeline
const (
	// NotifyEvent carries a notification request: type, details, thread_id
	// and optional session_id. The notification manager is the consumer.
	NotifyEvent = "notify.event"
)

// Event types for the transport link
const (
	TransportStateChanged = "transport.state_changed"
)

// Event types for the custom command mirror
const (
	CommandsSynced = "commands.synced"
)

// Source names attached to published events.
const (
	SourceLifecycle = "lifecycle"
	SourceTransport = "transport"
	SourceStream    = "stream"
	SourceCommands  = "commands"
	SourceRouter    = "router"
)
