package store

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"wtmux/internal/session"
	"wtmux/internal/wireerr"
)

// SessionMeta is the persisted shape of a session: everything needed to
// reconstruct a stopped session.Session on daemon restart, minus any live
// PTY/parser/ring state.
type SessionMeta struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RepoID       string `json:"repo_id"`
	Branch       string `json:"branch"`
	WorktreePath string `json:"worktree_path"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	Prompt       string `json:"prompt,omitempty"`

	Kind              session.Kind `json:"kind"`
	ProviderSessionID string       `json:"provider_session_id,omitempty"`
	Started           bool         `json:"started"`

	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`

	CreatedAt time.Time `json:"created_at"`
}

// SaveSession writes (or overwrites) a session's metadata. Called
// synchronously right after any in-memory mutation the daemon makes to a
// session (create, rename, provider-session-id fill-in, started flip).
func (s *Store) SaveSession(meta SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.sessionMetaPath(meta.ID), meta); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: save session %s", meta.ID)
	}
	return nil
}

// LoadSessions returns every persisted session's metadata. Used at daemon
// startup to reconstruct in-memory sessions.
func (s *Store) LoadSessions() ([]SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionsRoot := filepath.Join(s.root, "sessions")
	entries, err := os.ReadDir(sessionsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wireerr.Wrap(wireerr.Internal, err, "store: list sessions")
	}

	var metas []SessionMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var meta SessionMeta
		ok, err := readJSON(s.sessionMetaPath(e.Name()), &meta)
		if err != nil {
			return nil, wireerr.Wrap(wireerr.Internal, err, "store: load session %s", e.Name())
		}
		if ok {
			metas = append(metas, meta)
		}
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.Before(metas[j].CreatedAt) })
	return metas, nil
}

// DeleteSession removes a session's metadata and history directory
// entirely. Called by Session.destroy (as opposed to Session.stop, which
// keeps metadata).
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: delete session %s", sessionID)
	}
	return nil
}

// WriteHistory implements session.HistoryWriter: it persists the raw ring
// snapshot captured when a session is stopped, for an opportunistic replay
// seed if the daemon later restarts and a client attaches before the PTY is
// respawned.
func (s *Store) WriteHistory(sessionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionHistoryPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: mkdir history %s", sessionID)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: write history %s", sessionID)
	}
	return nil
}

// ReadHistory returns the last persisted raw-ring snapshot for sessionID, or
// nil if none was ever written.
func (s *Store) ReadHistory(sessionID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.sessionHistoryPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wireerr.Wrap(wireerr.Internal, err, "store: read history %s", sessionID)
	}
	return data, nil
}

// NextSessionName returns "<provider>-<n>", where n is the smallest
// positive integer not already used by a session name in existing (which
// callers scope to the same repo_id/branch before calling this). Session
// name uniqueness is enforced at creation time by always choosing this free
// slot rather than by rejecting collisions later.
func NextSessionName(provider string, existing []string) string {
	used := make(map[int]bool, len(existing))
	prefix := provider + "-"
	for _, name := range existing {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if err != nil || n <= 0 {
			continue
		}
		used[n] = true
	}

	n := 1
	for used[n] {
		n++
	}
	return prefix + strconv.Itoa(n)
}
