package commands

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events"
	"github.com/drawbridge/drawbridge/internal/events/bus"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func setupMirror(t *testing.T) (*Mirror, *storage.CommandStore, *bus.Memory, string) {
	t.Helper()
	log := testLogger(t)

	store, err := storage.NewCommandStore(filepath.Join(t.TempDir(), "commands.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	eventBus := bus.NewMemory(log)
	t.Cleanup(func() { _ = eventBus.Close() })

	dir := t.TempDir()
	return NewMirror(dir, 50*time.Millisecond, store, eventBus, log), store, eventBus, dir
}

func writeCommand(t *testing.T, dir, filename, name, extra, body string) string {
	t.Helper()
	content := "---\nname: " + name + "\n" + extra + "---\n" + body
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := writeCommand(t, dir, "deploy.md", "deploy", "description: ship it\nowner: infra\n", "Deploy the app.\n")

		cmd, err := ParseFile(path)
		require.NoError(t, err)
		assert.Equal(t, "deploy", cmd.Name)
		assert.Equal(t, path, cmd.FilePath)
		assert.Equal(t, map[string]interface{}{"description": "ship it", "owner": "infra"}, cmd.Metadata)
	})

	t.Run("name only leaves metadata empty", func(t *testing.T) {
		path := writeCommand(t, dir, "bare.md", "bare", "", "body\n")
		cmd, err := ParseFile(path)
		require.NoError(t, err)
		assert.Nil(t, cmd.Metadata)
	})

	t.Run("missing name is rejected", func(t *testing.T) {
		path := filepath.Join(dir, "anon.md")
		require.NoError(t, os.WriteFile(path, []byte("---\ndescription: nope\n---\nbody"), 0o644))
		_, err := ParseFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name")
	})

	t.Run("no front-matter is rejected", func(t *testing.T) {
		path := filepath.Join(dir, "plain.md")
		require.NoError(t, os.WriteFile(path, []byte("just markdown"), 0o644))
		_, err := ParseFile(path)
		require.Error(t, err)
	})

	t.Run("unterminated front-matter is rejected", func(t *testing.T) {
		path := filepath.Join(dir, "open.md")
		require.NoError(t, os.WriteFile(path, []byte("---\nname: x\nbody"), 0o644))
		_, err := ParseFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unterminated")
	})
}

func TestBody(t *testing.T) {
	dir := t.TempDir()
	path := writeCommand(t, dir, "review.md", "review", "", "Review the diff.\nBe thorough.\n")

	body, err := Body(path)
	require.NoError(t, err)
	assert.Equal(t, "Review the diff.\nBe thorough.\n", body)
}

func TestResync(t *testing.T) {
	ctx := context.Background()

	t.Run("mirrors markdown files and ignores the rest", func(t *testing.T) {
		m, store, _, dir := setupMirror(t)
		writeCommand(t, dir, "deploy.md", "deploy", "", "x")
		writeCommand(t, dir, "review.md", "review", "", "y")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("no front matter"), 0o644))

		count, err := m.Resync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		stored, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, stored, 2)
	})

	t.Run("removes store entries for deleted files", func(t *testing.T) {
		m, store, _, dir := setupMirror(t)
		path := writeCommand(t, dir, "deploy.md", "deploy", "", "x")
		writeCommand(t, dir, "review.md", "review", "", "y")

		_, err := m.Resync(ctx)
		require.NoError(t, err)

		require.NoError(t, os.Remove(path))
		count, err := m.Resync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		_, err = store.Get(ctx, "deploy")
		require.Error(t, err)
		cmd, err := store.Get(ctx, "review")
		require.NoError(t, err)
		assert.Equal(t, "review", cmd.Name)
	})

	t.Run("missing directory mirrors to empty", func(t *testing.T) {
		m, _, _, dir := setupMirror(t)
		require.NoError(t, os.RemoveAll(dir))
		count, err := m.Resync(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("publishes a synced event", func(t *testing.T) {
		m, _, eventBus, dir := setupMirror(t)
		writeCommand(t, dir, "deploy.md", "deploy", "", "x")

		var count atomic.Int64
		_, err := eventBus.Subscribe(events.CommandsSynced, func(_ context.Context, event *bus.Event) error {
			if n, ok := event.Data["count"].(int); ok {
				count.Store(int64(n))
			}
			return nil
		})
		require.NoError(t, err)

		_, err = m.Resync(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count.Load())
	})
}

func TestRunWatchesForChanges(t *testing.T) {
	m, store, _, dir := setupMirror(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Give the watcher a moment to establish before mutating the dir.
	time.Sleep(100 * time.Millisecond)
	writeCommand(t, dir, "deploy.md", "deploy", "", "x")

	require.Eventually(t, func() bool {
		cmd, err := store.Get(context.Background(), "deploy")
		return err == nil && cmd.Name == "deploy"
	}, 5*time.Second, 50*time.Millisecond, "watcher should mirror the new file")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
