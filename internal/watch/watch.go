// Package watch debounces filesystem change notifications for git
// worktrees and turns the relevant ones into GitStatusChanged events on the
// shared event bus.
package watch

import (
	"bufio"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"wtmux/internal/eventbus"
)

// DebounceWindow coalesces bursts of filesystem events (e.g. an editor's
// write-then-rename save) into a single status-changed notification.
const DebounceWindow = 300 * time.Millisecond

// Watcher monitors one worktree directory plus its .git metadata and emits
// a debounced GitStatusChanged event on the bus whenever something relevant
// to `git status` changes.
type Watcher struct {
	repoID       string
	branch       string
	worktreePath string
	ignores      []glob.Glob

	fsw    *fsnotify.Watcher
	bus    *eventbus.Bus
	logger *slog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	closeOnce sync.Once
	done      chan struct{}
}

// ignoreFile is an optional, newline-delimited list of glob patterns
// (relative to the worktree root, `#`-comments and blank lines ignored)
// naming paths whose changes should never trigger a GitStatusChanged event,
// even when the built-in §4.5 keep/drop table would otherwise keep them —
// e.g. a generated-artifacts directory under active rebuild that the table
// can't know about ahead of time.
const ignoreFile = ".wtmux_ignore"

func loadIgnorePatterns(worktreePath string, logger *slog.Logger) []glob.Glob {
	f, err := os.Open(filepath.Join(worktreePath, ignoreFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		logger.Warn("watch: reading ignore file", "path", worktreePath, "error", err)
		return nil
	}
	defer f.Close()

	var globs []glob.Glob
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		g, err := glob.Compile(line, '/')
		if err != nil {
			logger.Warn("watch: invalid ignore pattern", "pattern", line, "error", err)
			continue
		}
		globs = append(globs, g)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("watch: scanning ignore file", "path", worktreePath, "error", err)
	}
	return globs
}

// ignored reports whether path (absolute, under the watched worktree)
// matches a user-supplied ignore pattern. A match always drops the event,
// overriding the built-in keep/drop table.
func (w *Watcher) ignored(path string) bool {
	if len(w.ignores) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.worktreePath, path)
	if err != nil {
		return false
	}
	for _, g := range w.ignores {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// New starts watching worktreePath recursively, plus the worktree's own
// .git entry (a directory for the main worktree, a file for a linked one).
func New(repoID, branch, worktreePath string, bus *eventbus.Bus, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		repoID:       repoID,
		branch:       branch,
		worktreePath: worktreePath,
		ignores:      loadIgnorePatterns(worktreePath, logger),
		fsw:          fsw,
		bus:          bus,
		logger:       logger,
		done:         make(chan struct{}),
	}

	if err := addRecursive(fsw, worktreePath); err != nil {
		fsw.Close()
		return nil, err
	}

	gitPath := filepath.Join(worktreePath, ".git")
	_ = fsw.Add(gitPath) // best-effort; absent/unreadable .git isn't fatal here

	go w.loop()
	return w, nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries, keep walking
		}
		if d.IsDir() {
			if filepath.Base(path) == ".git" {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.ignored(ev.Name) && isRelevantForGitStatus(ev.Name) {
				w.scheduleEmit()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: fsnotify error", "repo_id", w.repoID, "branch", w.branch, "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleEmit() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(DebounceWindow, func() {
		w.bus.EmitGitStatusChanged(w.repoID, w.branch)
	})
}

// Close stops the watcher and releases its fsnotify resources.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return w.fsw.Close()
}

// isRelevantForGitStatus filters out paths whose changes can't affect `git
// status`: editor swap/temp files, IDE project directories, and most git
// internals (objects, logs, remote-tracking refs, config, hooks) — except
// the index, HEAD, and in-progress-operation markers, which git status
// reads directly.
func isRelevantForGitStatus(path string) bool {
	if strings.Contains(path, ".git/index") ||
		strings.Contains(path, ".git/HEAD") ||
		strings.Contains(path, ".git/MERGE_HEAD") ||
		strings.Contains(path, ".git/CHERRY_PICK_HEAD") {
		return true
	}

	if strings.HasSuffix(path, ".gitignore") {
		return true
	}

	if strings.Contains(path, ".git/") {
		excluded := strings.Contains(path, ".git/objects/") ||
			strings.Contains(path, ".git/logs/") ||
			strings.Contains(path, ".git/refs/remotes/") ||
			strings.Contains(path, ".git/config") ||
			strings.Contains(path, ".git/hooks/")
		return !excluded
	}

	if strings.HasSuffix(path, "~") ||
		strings.Contains(path, ".swp") ||
		strings.Contains(path, ".tmp") ||
		strings.Contains(path, "/.idea/") ||
		strings.Contains(path, "/.vscode/") ||
		strings.Contains(path, "/.fleet/") ||
		strings.HasSuffix(path, ".DS_Store") {
		return false
	}
	return true
}

// Manager owns one Watcher per (repo_id, branch) worktree.
type Manager struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
	bus      *eventbus.Bus
	logger   *slog.Logger
}

// NewManager creates an empty watcher manager.
func NewManager(bus *eventbus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{watchers: make(map[string]*Watcher), bus: bus, logger: logger}
}

func key(repoID, branch string) string { return repoID + "/" + branch }

// WatchWorktree starts watching worktreePath under (repoID, branch),
// replacing any previous watcher for the same key.
func (m *Manager) WatchWorktree(repoID, branch, worktreePath string) error {
	w, err := New(repoID, branch, worktreePath, m.bus, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.watchers[key(repoID, branch)]; ok {
		existing.Close()
	}
	m.watchers[key(repoID, branch)] = w
	return nil
}

// UnwatchWorktree stops and removes the watcher for (repoID, branch), if any.
func (m *Manager) UnwatchWorktree(repoID, branch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(repoID, branch)
	if w, ok := m.watchers[k]; ok {
		w.Close()
		delete(m.watchers, k)
		m.logger.Debug("watch: stopped watching", "repo_id", repoID, "branch", branch)
	}
}

// StopAll stops every watcher the manager owns.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, w := range m.watchers {
		w.Close()
		delete(m.watchers, k)
	}
}
