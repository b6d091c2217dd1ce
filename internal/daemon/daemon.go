// Package daemon owns the process-wide state every RPC handler operates
// on: the repo registry, live sessions, the provider registry, and the
// subsystems (git, watch, eventbus, store) they're built from. It follows
// the same centralized-state-store shape as the teacher's hub package, one
// RWMutex guarding the maps and a Shutdown that tears everything down in
// reverse dependency order.
package daemon

import (
	"log/slog"
	"sync"
	"time"

	"wtmux/internal/attach"
	"wtmux/internal/config"
	"wtmux/internal/eventbus"
	"wtmux/internal/git"
	"wtmux/internal/provider"
	"wtmux/internal/session"
	"wtmux/internal/store"
	"wtmux/internal/watch"
	"wtmux/internal/wireerr"
)

// nameFillInInterval is how often the maintenance loop checks running
// interactive sessions for a provider-supplied name, mirroring the
// teacher's tick()-driven periodic maintenance idiom.
const nameFillInInterval = 2 * time.Second

// sessionEntry bundles a session with its output pump, which only exists
// while the PTY is running, and whether its name is sticky (manually set or
// already filled in from the provider once).
type sessionEntry struct {
	sess       *session.Session
	pump       *attach.Pump
	manualName bool
}

// Daemon is the central state struct. All request handlers in package rpc
// take a *Daemon and call into it under the minimum lock scope needed.
type Daemon struct {
	Config   *config.Config
	Logger   *slog.Logger
	Git      *git.Manager
	Bus      *eventbus.Bus
	Watchers *watch.Manager
	Store    *store.Store
	Registry *provider.Registry

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	stopMaintenance chan struct{}
}

// New builds a daemon from its already-constructed subsystems and restores
// persisted sessions (stopped, per spec.md §4.9 — PTYs are not respawned
// until a client attaches or explicitly starts them).
func New(cfg *config.Config, logger *slog.Logger, gitMgr *git.Manager, bus *eventbus.Bus, watchers *watch.Manager, st *store.Store, registry *provider.Registry) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		Config:          cfg,
		Logger:          logger,
		Git:             gitMgr,
		Bus:             bus,
		Watchers:        watchers,
		Store:           st,
		Registry:        registry,
		sessions:        make(map[string]*sessionEntry),
		stopMaintenance: make(chan struct{}),
	}

	if err := d.restoreSessions(); err != nil {
		return nil, err
	}

	go d.maintenanceLoop()
	return d, nil
}

// maintenanceLoop periodically opportunistically renames interactive
// sessions from their provider's own session-info side-car, the one
// recurring background task the daemon runs outside of request handling.
func (d *Daemon) maintenanceLoop() {
	ticker := time.NewTicker(nameFillInInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopMaintenance:
			return
		case <-ticker.C:
			d.fillInProviderNames()
		}
	}
}

func (d *Daemon) fillInProviderNames() {
	d.mu.RLock()
	var candidates []*sessionEntry
	for _, e := range d.sessions {
		if !e.manualName && e.sess.Status() == session.StatusRunning {
			candidates = append(candidates, e)
		}
	}
	d.mu.RUnlock()

	for _, e := range candidates {
		oldName := e.sess.Name
		if !e.sess.UpdateNameFromProvider(d.Registry, e.manualName) {
			continue
		}
		d.mu.Lock()
		e.manualName = true // renamedFromProvider is itself sticky, per spec.md §3
		d.mu.Unlock()

		if err := d.persistSession(e.sess); err != nil {
			d.Logger.Warn("daemon: failed to persist provider name fill-in", "session_id", e.sess.ID, "error", err)
		}
		d.Bus.EmitSessionNameUpdated(e.sess.RepoID, e.sess.ID, oldName, e.sess.Name)
	}
}

func (d *Daemon) restoreSessions() error {
	metas, err := d.Store.LoadSessions()
	if err != nil {
		return err
	}

	for _, m := range metas {
		if m.Kind == session.KindOneShot {
			continue // never restored, per spec.md §3
		}

		variant := session.Variant{
			Kind:              m.Kind,
			ProviderSessionID: m.ProviderSessionID,
			Started:           m.Started,
		}
		sess := session.New(m.ID, m.RepoID, m.Branch, m.WorktreePath, m.Provider, m.Model, variant, m.Prompt, m.Rows, m.Cols, d.Logger)
		sess.Name = m.Name

		d.mu.Lock()
		d.sessions[m.ID] = &sessionEntry{sess: sess}
		d.mu.Unlock()
	}
	return nil
}

// persistSession writes a session's current metadata to the store. Called
// after any mutation a handler makes to in-memory session state.
func (d *Daemon) persistSession(sess *session.Session) error {
	variant := sess.Variant()
	rows, cols := sess.Size()
	return d.Store.SaveSession(store.SessionMeta{
		ID:                sess.ID,
		Name:              sess.Name,
		RepoID:            sess.RepoID,
		Branch:            sess.Branch,
		WorktreePath:      sess.WorktreePath,
		Provider:          sess.Provider,
		Model:             sess.Model,
		Prompt:            sess.Prompt,
		Kind:              variant.Kind,
		ProviderSessionID: variant.ProviderSessionID,
		Started:           variant.Started,
		Rows:              rows,
		Cols:              cols,
		CreatedAt:         sess.CreatedAt,
	})
}

// sessionNamesIn returns the current names of every session scoped to
// repoID/branch, for NextSessionName's free-slot search.
func (d *Daemon) sessionNamesIn(repoID, branch string) []string {
	var names []string
	for _, e := range d.sessions {
		if e.sess.RepoID == repoID && e.sess.Branch == branch {
			names = append(names, e.sess.Name)
		}
	}
	return names
}

// getSession looks up a live session entry by id under the read lock.
func (d *Daemon) getSession(id string) (*sessionEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.sessions[id]
	if !ok {
		return nil, wireerr.New(wireerr.NotFound, "session %q not found", id)
	}
	return e, nil
}

// Shutdown stops every running session's PTY and persists its history,
// mirroring the teacher's reverse-order Shutdown: watchers first (they
// reference worktrees, not sessions), then sessions, so no watcher fires
// a spurious event for a worktree mid-teardown.
func (d *Daemon) Shutdown() error {
	d.Logger.Info("daemon: shutting down")

	close(d.stopMaintenance)
	d.Watchers.StopAll()

	d.mu.Lock()
	defer d.mu.Unlock()

	for id, e := range d.sessions {
		if e.pump != nil {
			e.pump.Stop()
		}
		if e.sess.Status() == session.StatusRunning {
			if err := e.sess.Stop(d.Store); err != nil {
				d.Logger.Warn("daemon: failed to stop session on shutdown", "session_id", id, "error", err)
			}
		}
	}
	return nil
}
