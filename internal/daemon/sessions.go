package daemon

import (
	"github.com/google/uuid"

	"wtmux/internal/attach"
	"wtmux/internal/notification"
	"wtmux/internal/prompt"
	"wtmux/internal/session"
	"wtmux/internal/store"
	"wtmux/internal/wireerr"
)

// SessionInfo is the wire shape of a session.
type SessionInfo struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	RepoID       string         `json:"repo_id"`
	Branch       string         `json:"branch"`
	WorktreePath string         `json:"worktree_path"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model,omitempty"`
	Kind         session.Kind   `json:"kind"`
	Status       session.Status `json:"status"`
}

func infoFor(sess *session.Session) SessionInfo {
	return SessionInfo{
		ID: sess.ID, Name: sess.Name, RepoID: sess.RepoID, Branch: sess.Branch,
		WorktreePath: sess.WorktreePath, Provider: sess.Provider, Model: sess.Model,
		Kind: sess.Variant().Kind, Status: sess.Status(),
	}
}

// ListSessions lists live sessions, optionally scoped by repoID and/or
// branch (either may be empty to mean "any").
func (d *Daemon) ListSessions(repoID, branch string) []SessionInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []SessionInfo
	for _, e := range d.sessions {
		if repoID != "" && e.sess.RepoID != repoID {
			continue
		}
		if branch != "" && e.sess.Branch != branch {
			continue
		}
		out = append(out, infoFor(e.sess))
	}
	return out
}

// CreateSessionParams is the input to CreateSession. IsShell and OneShot are
// mutually exclusive; when neither is set the session is Interactive
// (resumable), the common case for a driven AI session.
type CreateSessionParams struct {
	RepoID   string
	Branch   string
	Name     string
	Prompt   string
	IsShell  bool
	OneShot  bool
	Model    string
	Provider string
	Rows     uint16
	Cols     uint16
}

// CreateSession follows C3 -> C4 -> C2: it resolves the provider/model
// (bypassing the registry entirely for shell sessions), auto-creates the
// worktree if the branch has none yet (from HEAD), picks a name if one
// wasn't supplied, and emits SessionCreated.
func (d *Daemon) CreateSession(p CreateSessionParams) (SessionInfo, error) {
	repo, err := d.requireRepo(p.RepoID)
	if err != nil {
		return SessionInfo{}, err
	}

	worktreePath, err := d.ensureWorktree(repo.Path, p.RepoID, p.Branch)
	if err != nil {
		return SessionInfo{}, err
	}

	rows, cols := p.Rows, p.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	var variant session.Variant
	providerName := p.Provider
	resolvedModel := p.Model
	if p.IsShell {
		variant = session.Variant{Kind: session.KindShell}
		providerName = ""
	} else {
		if providerName == "" {
			providerName = d.Config.DefaultProvider
		}
		if resolvedModel != "" {
			if err := d.Registry.ValidateModel(providerName, resolvedModel); err != nil {
				return SessionInfo{}, err
			}
		} else if desc, ok := d.Registry.Get(providerName); ok {
			resolvedModel = desc.DefaultModel
		}
		if p.OneShot {
			variant = session.Variant{Kind: session.KindOneShot}
		} else {
			variant = session.Variant{Kind: session.KindInteractive, ProviderSessionID: uuid.NewString()}
		}
	}

	name := p.Name
	if name == "" {
		d.mu.RLock()
		existing := d.sessionNamesIn(p.RepoID, p.Branch)
		d.mu.RUnlock()
		namingProvider := providerName
		if namingProvider == "" {
			namingProvider = "shell"
		}
		name = store.NextSessionName(namingProvider, existing)
	}

	resolvedPrompt := p.Prompt
	if resolvedPrompt == "" && !p.IsShell {
		if local, err := prompt.GetLocalPrompt(worktreePath); err != nil {
			d.Logger.Warn("daemon: failed to read local prompt file", "worktree", worktreePath, "error", err)
		} else {
			resolvedPrompt = local
		}
	}

	sess := session.New(uuid.NewString(), p.RepoID, p.Branch, worktreePath, providerName, resolvedModel, variant, resolvedPrompt, rows, cols, d.Logger)
	sess.Name = name

	// Session.create follows C3 -> C4 -> C2 through to a live PTY: the
	// session is Running the moment CreateSession returns, per spec.md
	// §8/E2, not merely registered and left for a later attach to start.
	if err := sess.Start(d.Registry, rows, cols); err != nil {
		return SessionInfo{}, err
	}

	entry := &sessionEntry{sess: sess, manualName: p.Name != ""}
	entry.pump = attach.NewPump(sess, d.Logger)
	repoID, sessID := sess.RepoID, sess.ID
	entry.pump.OnNotify(func(n notification.Notification) {
		d.Bus.EmitSessionNotification(repoID, sessID, n.Title, n.Message)
	})
	go entry.pump.Run()

	d.mu.Lock()
	// A caller-supplied name is sticky immediately; the periodic
	// provider-name fill-in (see maintenanceLoop) must never clobber it.
	d.sessions[sess.ID] = entry
	d.mu.Unlock()

	if err := d.persistSession(sess); err != nil {
		d.Logger.Warn("daemon: failed to persist new session", "session_id", sess.ID, "error", err)
	}

	d.Bus.EmitSessionCreated(p.RepoID, sess.ID)
	return infoFor(sess), nil
}

func (d *Daemon) ensureWorktree(repoPath, repoID, branch string) (string, error) {
	worktrees, err := d.Git.ListWorktrees(repoPath)
	if err != nil {
		return "", wireerr.Wrap(wireerr.Internal, err, "daemon: list worktrees")
	}
	for _, wt := range worktrees {
		if wt.Branch == branch {
			return wt.Path, nil
		}
	}

	path, err := d.Git.CreateWorktree(repoPath, branch, d.Config.WorktreeBase, nil)
	if err != nil {
		return "", err
	}
	if err := d.Watchers.WatchWorktree(repoID, branch, path); err != nil {
		d.Logger.Warn("daemon: failed to arm watcher for auto-created worktree", "repo_id", repoID, "branch", branch, "error", err)
	}
	d.Bus.EmitWorktreeAdded(repoID, branch, path)
	return path, nil
}

// RenameSession sets a session's name, making it sticky.
func (d *Daemon) RenameSession(sessionID, newName string) error {
	e, err := d.getSession(sessionID)
	if err != nil {
		return err
	}

	oldName := e.sess.Name
	e.sess.Name = newName
	d.mu.Lock()
	e.manualName = true
	d.mu.Unlock()
	if err := d.persistSession(e.sess); err != nil {
		d.Logger.Warn("daemon: failed to persist rename", "session_id", sessionID, "error", err)
	}
	d.Bus.EmitSessionNameUpdated(e.sess.RepoID, sessionID, oldName, newName)
	return nil
}

// StopSession kills the PTY but keeps metadata, persisting the raw ring.
func (d *Daemon) StopSession(sessionID string) error {
	e, err := d.getSession(sessionID)
	if err != nil {
		return err
	}

	if e.pump != nil {
		e.pump.Stop()
	}

	oldStatus := e.sess.Status()
	if err := e.sess.Stop(d.Store); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "daemon: stop session %s", sessionID)
	}

	d.mu.Lock()
	e.pump = nil
	d.mu.Unlock()

	if err := d.persistSession(e.sess); err != nil {
		d.Logger.Warn("daemon: failed to persist stop", "session_id", sessionID, "error", err)
	}
	d.Bus.EmitSessionStatusChanged(e.sess.RepoID, sessionID, string(oldStatus), string(session.StatusStopped))
	return nil
}

// DestroySession stops the PTY (if running) and deletes all persisted
// artifacts for the session.
func (d *Daemon) DestroySession(sessionID string) error {
	e, err := d.getSession(sessionID)
	if err != nil {
		return err
	}

	if e.pump != nil {
		e.pump.Stop()
	}
	if e.sess.Status() == session.StatusRunning {
		_ = e.sess.Stop(nil)
	}

	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()

	if err := d.Store.DeleteSession(sessionID); err != nil {
		d.Logger.Warn("daemon: failed to delete session artifacts", "session_id", sessionID, "error", err)
	}

	d.Bus.EmitSessionDestroyed(e.sess.RepoID, sessionID, e.sess.Branch)
	return nil
}

// StartSession spawns (or respawns) the PTY for a stopped session and
// returns its output pump, creating one if it doesn't already have a live
// pump. Attach handlers call this before registering a client.
func (d *Daemon) StartSession(sessionID string) (*session.Session, *attach.Pump, error) {
	e, err := d.getSession(sessionID)
	if err != nil {
		return nil, nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	oldStatus := e.sess.Status()
	if oldStatus != session.StatusRunning {
		if err := e.sess.Start(d.Registry, 24, 80); err != nil {
			return nil, nil, err
		}
	}

	if e.pump == nil {
		e.pump = attach.NewPump(e.sess, d.Logger)
		repoID, sessID := e.sess.RepoID, e.sess.ID
		e.pump.OnNotify(func(n notification.Notification) {
			d.Bus.EmitSessionNotification(repoID, sessID, n.Title, n.Message)
		})
		go e.pump.Run()
	}

	if oldStatus != session.StatusRunning {
		if err := d.persistSession(e.sess); err != nil {
			d.Logger.Warn("daemon: failed to persist start", "session_id", sessionID, "error", err)
		}
		d.Bus.EmitSessionStatusChanged(e.sess.RepoID, sessionID, string(oldStatus), string(session.StatusRunning))
	}

	return e.sess, e.pump, nil
}
