package notify

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events"
	"github.com/drawbridge/drawbridge/internal/events/bus"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

// Sender delivers rendered notifications to the remote user.
type Sender interface {
	SendMessage(ctx context.Context, recipient, text string) error
}

// prefCacheCleanup is how often expired cache entries are swept.
const prefCacheCleanup = time.Minute

type cachedPref struct {
	enabled bool
	found   bool
}

// Manager is the notification pipeline: categorize, consult
// preferences, format, send. Preference reads go through a short-lived
// cache so a chatty session does not hammer the settings database.
type Manager struct {
	prefs         *storage.NotificationPrefStore
	cache         *gocache.Cache
	sender        Sender
	defaultThread string
	log           *logger.Logger
}

// NewManager builds the pipeline. defaultThread receives events
// published without an explicit recipient (e.g. transport reconnects).
func NewManager(prefs *storage.NotificationPrefStore, sender Sender, defaultThread string, cacheTTL time.Duration, log *logger.Logger) *Manager {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Manager{
		prefs:         prefs,
		cache:         gocache.New(cacheTTL, prefCacheCleanup),
		sender:        sender,
		defaultThread: defaultThread,
		log:           log.WithComponent("notify"),
	}
}

// ShouldNotify decides delivery for (thread, event type). Urgent events
// are always delivered and silent ones never are; in between the stored
// preference wins, defaulting to on for important events and off for
// informational ones.
func (m *Manager) ShouldNotify(ctx context.Context, threadID, eventType string) bool {
	urgency := Categorize(eventType)
	switch urgency {
	case Urgent:
		return true
	case Silent:
		return false
	}

	pref := m.lookupPref(ctx, threadID, eventType)
	if pref.found {
		return pref.enabled
	}
	return DefaultEnabled(urgency)
}

// Notify runs the full pipeline and reports whether a message was sent.
// An empty threadID falls back to the default recipient.
func (m *Manager) Notify(ctx context.Context, eventType, details, threadID, sessionID string) bool {
	if threadID == "" {
		threadID = m.defaultThread
	}
	log := m.log.WithThreadID(threadID)
	if sessionID != "" {
		log = log.WithSessionID(sessionID)
	}

	if !m.ShouldNotify(ctx, threadID, eventType) {
		log.Debug("notification suppressed", zap.String("event_type", eventType))
		return false
	}

	text := FormatMessage(eventType, details)
	if text == "" {
		return false
	}

	if err := m.sender.SendMessage(ctx, threadID, text); err != nil {
		log.WithError(err).Warn("notification send failed", zap.String("event_type", eventType))
		return false
	}
	log.Debug("notification sent",
		zap.String("event_type", eventType),
		zap.String("urgency", Categorize(eventType).String()))
	return true
}

// SetPreference stores an explicit toggle and drops the cached value.
// Urgent and silent classes are fixed and cannot be overridden.
func (m *Manager) SetPreference(ctx context.Context, threadID, eventType string, enabled bool) error {
	switch Categorize(eventType) {
	case Urgent:
		if !enabled {
			return errors.ValidationError("event_type", eventType+" notifications are always delivered")
		}
	case Silent:
		if enabled {
			return errors.ValidationError("event_type", eventType+" notifications are never delivered")
		}
	}
	if err := m.prefs.Set(ctx, threadID, eventType, enabled); err != nil {
		return err
	}
	m.cache.Delete(prefKey(threadID, eventType))
	return nil
}

// Preferences returns the effective toggles for the standard event
// types: stored values where present, class defaults elsewhere.
func (m *Manager) Preferences(ctx context.Context, threadID string) (map[string]bool, error) {
	stored, err := m.prefs.ListForThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	effective := make(map[string]bool)
	for _, eventType := range []string{EventError, EventApprovalNeeded, EventCompletion, EventReconnection, EventProgress} {
		urgency := Categorize(eventType)
		switch urgency {
		case Urgent:
			effective[eventType] = true
		case Silent:
			effective[eventType] = false
		default:
			if v, ok := stored[eventType]; ok {
				effective[eventType] = v
			} else {
				effective[eventType] = DefaultEnabled(urgency)
			}
		}
	}
	return effective, nil
}

// Attach subscribes the pipeline to the notification subject so
// components without a manager handle can publish instead.
func (m *Manager) Attach(eventBus bus.EventBus) (bus.Subscription, error) {
	return eventBus.Subscribe(events.NotifyEvent, func(ctx context.Context, event *bus.Event) error {
		eventType, _ := event.Data["event_type"].(string)
		if eventType == "" {
			return nil
		}
		details, _ := event.Data["details"].(string)
		threadID, _ := event.Data["thread_id"].(string)
		sessionID, _ := event.Data["session_id"].(string)
		m.Notify(ctx, eventType, details, threadID, sessionID)
		return nil
	})
}

func (m *Manager) lookupPref(ctx context.Context, threadID, eventType string) cachedPref {
	key := prefKey(threadID, eventType)
	if v, ok := m.cache.Get(key); ok {
		if pref, ok := v.(cachedPref); ok {
			return pref
		}
	}

	enabled, found, err := m.prefs.Get(ctx, threadID, eventType)
	if err != nil {
		m.log.WithError(err).Warn("preference lookup failed",
			zap.String("thread_id", threadID),
			zap.String("event_type", eventType))
		return cachedPref{}
	}
	pref := cachedPref{enabled: enabled, found: found}
	m.cache.Set(key, pref, gocache.DefaultExpiration)
	return pref
}

func prefKey(threadID, eventType string) string {
	return threadID + "|" + eventType
}
