package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"wtmux/internal/eventbus"
)

func TestIsRelevantForGitStatus(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/repo/.git/index", true},
		{"/repo/.git/HEAD", true},
		{"/repo/.git/MERGE_HEAD", true},
		{"/repo/.gitignore", true},
		{"/repo/main.go", true},
		{"/repo/.git/objects/ab/cdef", false},
		{"/repo/.git/logs/HEAD", false},
		{"/repo/.git/refs/remotes/origin/main", false},
		{"/repo/.git/config", false},
		{"/repo/.git/hooks/pre-commit", false},
		{"/repo/main.go~", false},
		{"/repo/main.go.swp", false},
		{"/repo/main.go.tmp", false},
		{"/repo/.idea/workspace.xml", false},
		{"/repo/.vscode/settings.json", false},
		{"/repo/.DS_Store", false},
	}

	for _, tt := range tests {
		if got := isRelevantForGitStatus(tt.path); got != tt.want {
			t.Errorf("isRelevantForGitStatus(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcherEmitsDebouncedOnRelevantChange(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New(nil)
	sub := bus.Subscribe("")
	defer sub.Close()

	w, err := New("repo-1", "main", dir, bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != eventbus.GitStatusChanged {
			t.Errorf("Kind = %v, want GitStatusChanged", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced git status event")
	}
}

func TestWatcherCoalescesBurstsIntoOneEvent(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New(nil)
	sub := bus.Subscribe("")
	defer sub.Close()

	w, err := New("repo-1", "main", dir, bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("burst"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coalesced event")
	}

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected second event from a single debounce window: %+v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherIgnoreFileSuppressesMatchedPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "build"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".wtmux_ignore"), []byte("# generated output\nbuild/*\n"), 0644); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New(nil)
	sub := bus.Subscribe("")
	defer sub.Close()

	w, err := New("repo-1", "main", dir, bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "build", "out.o"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event for an ignored path: %+v", ev)
	case <-time.After(500 * time.Millisecond):
	}

	if err := os.WriteFile(filepath.Join(dir, "tracked.go"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != eventbus.GitStatusChanged {
			t.Errorf("Kind = %v, want GitStatusChanged", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for non-ignored path's event")
	}
}

func TestManagerWatchAndUnwatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New(nil)
	m := NewManager(bus, nil)

	if err := m.WatchWorktree("repo-1", "main", dir); err != nil {
		t.Fatalf("WatchWorktree: %v", err)
	}
	if len(m.watchers) != 1 {
		t.Fatalf("len(watchers) = %d, want 1", len(m.watchers))
	}

	m.UnwatchWorktree("repo-1", "main")
	if len(m.watchers) != 0 {
		t.Errorf("len(watchers) = %d, want 0 after unwatch", len(m.watchers))
	}
}

func TestManagerStopAll(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	os.MkdirAll(filepath.Join(dir1, ".git"), 0755)
	os.MkdirAll(filepath.Join(dir2, ".git"), 0755)

	bus := eventbus.New(nil)
	m := NewManager(bus, nil)
	m.WatchWorktree("repo-1", "main", dir1)
	m.WatchWorktree("repo-1", "dev", dir2)

	m.StopAll()
	if len(m.watchers) != 0 {
		t.Errorf("len(watchers) = %d, want 0 after StopAll", len(m.watchers))
	}
}
