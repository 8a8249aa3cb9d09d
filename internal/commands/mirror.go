package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events"
	"github.com/drawbridge/drawbridge/internal/events/bus"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

// Mirror keeps the command store in sync with the watched directory.
// A full resync runs at boot and after every debounced batch of
// filesystem events; the store is treated as a pure mirror, so entries
// whose files vanished are deleted.
type Mirror struct {
	dir      string
	debounce time.Duration
	store    *storage.CommandStore
	bus      bus.EventBus
	log      *logger.Logger
}

// NewMirror builds a mirror over dir. debounce collapses bursts of
// filesystem events into a single resync.
func NewMirror(dir string, debounce time.Duration, store *storage.CommandStore, eventBus bus.EventBus, log *logger.Logger) *Mirror {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Mirror{
		dir:      dir,
		debounce: debounce,
		store:    store,
		bus:      eventBus,
		log:      log.WithComponent("commands"),
	}
}

// Dir returns the watched directory.
func (m *Mirror) Dir() string {
	return m.dir
}

// Resync scans the directory and reconciles the store against it:
// every parseable .md file is upserted, everything else is removed.
// Returns the number of commands mirrored.
func (m *Mirror) Resync(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return 0, err
		}
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".md") {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		cmd, err := ParseFile(path)
		if err != nil {
			m.log.Warn("skipping command file", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := m.store.Upsert(ctx, cmd); err != nil {
			return 0, err
		}
		seen[cmd.Name] = true
	}

	stored, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, cmd := range stored {
		if seen[cmd.Name] {
			continue
		}
		if err := m.store.Delete(ctx, cmd.Name); err != nil {
			return 0, err
		}
	}

	m.publishSynced(ctx, len(seen))
	m.log.Info("command mirror synced", zap.Int("count", len(seen)))
	return len(seen), nil
}

// Run watches the directory until ctx is cancelled, resyncing after
// each debounced event burst. The directory is created if missing so
// the watch can be established.
func (m *Mirror) Run(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(m.dir); err != nil {
		return err
	}
	m.log.Info("watching command directory", zap.String("dir", m.dir))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(m.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if _, err := m.Resync(ctx); err != nil {
				m.log.WithError(err).Error("command resync failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.WithError(err).Warn("command watcher error")
		}
	}
}

// relevant keeps only mutations of markdown files.
func relevant(event fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func (m *Mirror) publishSynced(ctx context.Context, count int) {
	if m.bus == nil {
		return
	}
	event := bus.NewEvent(events.CommandsSynced, events.SourceCommands, map[string]interface{}{
		"count": count,
	})
	if err := m.bus.Publish(ctx, events.CommandsSynced, event); err != nil {
		m.log.WithError(err).Warn("failed to publish commands synced event")
	}
}
