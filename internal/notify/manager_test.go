package notify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events"
	"github.com/drawbridge/drawbridge/internal/events/bus"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

type sentMessage struct {
	recipient string
	text      string
}

func (f *fakeSender) SendMessage(_ context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{recipient: recipient, text: text})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func setupManager(t *testing.T) (*Manager, *fakeSender) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	prefs, err := storage.NewNotificationPrefStore(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = prefs.Close() })

	sender := &fakeSender{}
	return NewManager(prefs, sender, "thread-1", 30*time.Second, log), sender
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		eventType string
		want      Urgency
	}{
		{EventError, Urgent},
		{EventApprovalNeeded, Urgent},
		{EventCompletion, Important},
		{EventReconnection, Important},
		{EventProgress, Informational},
		{"deploy_started", Informational},
		{"", Informational},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.eventType))
		})
	}
}

func TestFormatMessage(t *testing.T) {
	t.Run("error carries the urgent emoji and header", func(t *testing.T) {
		msg := FormatMessage(EventError, "child exited with code 1")
		assert.Equal(t, "🚨 Error: child exited with code 1", msg)
	})

	t.Run("completion is important", func(t *testing.T) {
		msg := FormatMessage(EventCompletion, "Command finished")
		assert.Equal(t, "🔔 Task complete: Command finished", msg)
	})

	t.Run("progress is informational", func(t *testing.T) {
		msg := FormatMessage(EventProgress, "Analyzing")
		assert.Equal(t, "ℹ️ Progress: Analyzing", msg)
	})

	t.Run("unknown types get a humanized header", func(t *testing.T) {
		msg := FormatMessage("deploy_started", "v2 rollout")
		assert.Equal(t, "ℹ️ Deploy started: v2 rollout", msg)
	})

	t.Run("empty details render header only", func(t *testing.T) {
		assert.Equal(t, "🔔 Reconnected", FormatMessage(EventReconnection, ""))
	})

	t.Run("long text truncates with ellipsis", func(t *testing.T) {
		msg := FormatMessage(EventError, strings.Repeat("x", 500))
		runes := []rune(msg)
		assert.Len(t, runes, MaxLength)
		assert.Equal(t, '…', runes[len(runes)-1])
	})
}

func TestShouldNotify(t *testing.T) {
	ctx := context.Background()

	t.Run("urgent is always delivered even when disabled", func(t *testing.T) {
		m, _ := setupManager(t)
		require.NoError(t, m.prefs.Set(ctx, "thread-1", EventError, false))
		assert.True(t, m.ShouldNotify(ctx, "thread-1", EventError))
	})

	t.Run("important defaults on", func(t *testing.T) {
		m, _ := setupManager(t)
		assert.True(t, m.ShouldNotify(ctx, "thread-1", EventCompletion))
	})

	t.Run("informational defaults off", func(t *testing.T) {
		m, _ := setupManager(t)
		assert.False(t, m.ShouldNotify(ctx, "thread-1", EventProgress))
	})

	t.Run("stored preference wins over the default", func(t *testing.T) {
		m, _ := setupManager(t)
		require.NoError(t, m.SetPreference(ctx, "thread-1", EventProgress, true))
		assert.True(t, m.ShouldNotify(ctx, "thread-1", EventProgress))

		require.NoError(t, m.SetPreference(ctx, "thread-1", EventCompletion, false))
		assert.False(t, m.ShouldNotify(ctx, "thread-1", EventCompletion))
	})

	t.Run("writes invalidate the cached read", func(t *testing.T) {
		m, _ := setupManager(t)
		assert.False(t, m.ShouldNotify(ctx, "thread-1", EventProgress)) // primes the cache
		require.NoError(t, m.SetPreference(ctx, "thread-1", EventProgress, true))
		assert.True(t, m.ShouldNotify(ctx, "thread-1", EventProgress))
	})
}

func TestNotify(t *testing.T) {
	ctx := context.Background()

	t.Run("sends and reports true", func(t *testing.T) {
		m, sender := setupManager(t)
		sent := m.Notify(ctx, EventCompletion, "Command finished", "thread-1", "session-1")
		require.True(t, sent)

		msgs := sender.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "thread-1", msgs[0].recipient)
		assert.Contains(t, msgs[0].text, "Task complete")
	})

	t.Run("suppressed events send nothing", func(t *testing.T) {
		m, sender := setupManager(t)
		sent := m.Notify(ctx, EventProgress, "Analyzing", "thread-1", "")
		assert.False(t, sent)
		assert.Empty(t, sender.messages())
	})

	t.Run("empty thread falls back to the default recipient", func(t *testing.T) {
		m, sender := setupManager(t)
		require.True(t, m.Notify(ctx, EventError, "boom", "", ""))
		msgs := sender.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "thread-1", msgs[0].recipient)
	})

	t.Run("send failure reports false", func(t *testing.T) {
		m, sender := setupManager(t)
		sender.err = errors.New("gateway down")
		assert.False(t, m.Notify(ctx, EventError, "boom", "thread-1", ""))
	})
}

func TestSetPreferenceGuards(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	err := m.SetPreference(ctx, "thread-1", EventError, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "always delivered")

	assert.NoError(t, m.SetPreference(ctx, "thread-1", EventError, true))
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	require.NoError(t, m.SetPreference(ctx, "thread-1", EventProgress, true))

	prefs, err := m.Preferences(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		EventError:          true,
		EventApprovalNeeded: true,
		EventCompletion:     true,
		EventReconnection:   true,
		EventProgress:       true,
	}, prefs)

	require.NoError(t, m.SetPreference(ctx, "thread-1", EventCompletion, false))
	prefs, err = m.Preferences(ctx, "thread-1")
	require.NoError(t, err)
	assert.False(t, prefs[EventCompletion])
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	m, sender := setupManager(t)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	eventBus := bus.NewMemory(log)
	defer func() { _ = eventBus.Close() }()

	sub, err := m.Attach(eventBus)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	// No thread_id on the event: delivery falls back to the default.
	err = eventBus.Publish(ctx, events.NotifyEvent, bus.NewEvent(events.NotifyEvent, events.SourceTransport, map[string]interface{}{
		"event_type": EventReconnection,
		"details":    "Connection restored.",
	}))
	require.NoError(t, err)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "thread-1", msgs[0].recipient)
	assert.Contains(t, msgs[0].text, "Reconnected")
	assert.Contains(t, msgs[0].text, "Connection restored.")
}
