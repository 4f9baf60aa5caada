package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestEventTypeOf(t *testing.T) {
	assert.Equal(t, EventTypeCreated, eventTypeOf(fsnotify.Create))
	assert.Equal(t, EventTypeModified, eventTypeOf(fsnotify.Write))
	assert.Equal(t, EventTypeDeleted, eventTypeOf(fsnotify.Remove))
	assert.Equal(t, EventTypeRenamed, eventTypeOf(fsnotify.Rename))
	assert.Equal(t, EventTypeModified, eventTypeOf(fsnotify.Chmod))
}

func TestFilters(t *testing.T) {
	testCases := []struct {
		path      string
		component bool
		visible   bool
		notGit    bool
	}{
		{"components/my-card/markup.html", true, true, true},
		{"components/my-card/style.css", true, true, true},
		{"components/my-card/script.js", true, true, true},
		{"state.yaml", true, true, true},
		{"main.go", false, true, true},
		{"components/.markup.html.swp", false, false, true},
		{"index.html~", false, false, true},
		{"repo/.git/index.html", true, true, false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.component, ComponentFileFilter(tc.path))
			assert.Equal(t, tc.visible, NoHiddenFilter(tc.path))
			assert.Equal(t, tc.notGit, NoGitFilter(tc.path))
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.NotNil(t, watcher.logger)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NoError(t, watcher.AddPath(t.TempDir()))
	assert.Error(t, watcher.AddPath("/non/existent/path"))
}

func TestDebouncerKeepsLatestPerPath(t *testing.T) {
	d := &Debouncer{
		delay:  time.Hour,
		output: make(chan []ChangeEvent, 1),
	}
	d.pending = []ChangeEvent{
		{Type: EventTypeCreated, Path: "b.html"},
		{Type: EventTypeCreated, Path: "a.css"},
		{Type: EventTypeModified, Path: "b.html"},
	}
	d.flush()

	events := <-d.output
	require.Len(t, events, 2)
	assert.Equal(t, "a.css", events[0].Path)
	assert.Equal(t, "b.html", events[1].Path)
	assert.Equal(t, EventTypeModified, events[1].Type)
	assert.Empty(t, d.pending)
}

func TestFileWatcherReportsComponentChanges(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "components", "my-card")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	watcher, err := NewFileWatcher(50 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(ComponentFileFilter)
	watcher.AddFilter(NoHiddenFilter)
	require.NoError(t, watcher.AddRecursive(dir))

	var mu sync.Mutex
	var seen []string
	watcher.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen = append(seen, filepath.Base(e.Path))
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(sub, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "markup.html"), []byte("<b>x</b>"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "markup.html")
	assert.NotContains(t, seen, "notes.txt")
}
