package daemon

import (
	"path/filepath"

	"wtmux/internal/git"
	"wtmux/internal/store"
	"wtmux/internal/wireerr"
)

// WorktreeInfo is the wire shape of a worktree, including the derived
// session_count spec.md §3 calls for.
type WorktreeInfo struct {
	Path         string `json:"path"`
	Branch       string `json:"branch"`
	IsMain       bool   `json:"is_main"`
	SessionCount int    `json:"session_count"`
}

// AddRepo canonicalises path via C4's FindMainRepoPath, re-anchoring to the
// main repo if path is inside a worktree, then registers it (idempotent on
// repo_id) and arms the watcher for every existing worktree.
func (d *Daemon) AddRepo(path string) (store.Repo, error) {
	mainPath, err := git.FindMainRepoPath(path)
	if err != nil {
		return store.Repo{}, wireerr.Wrap(wireerr.NotFound, err, "daemon: add repo %s", path)
	}

	repo, err := d.Store.AddRepo(mainPath, filepath.Base(mainPath))
	if err != nil {
		return store.Repo{}, err
	}

	worktrees, err := d.Git.ListWorktrees(mainPath)
	if err != nil {
		d.Logger.Warn("daemon: failed to list worktrees while arming watchers", "repo_id", repo.ID, "error", err)
		return repo, nil
	}
	for _, wt := range worktrees {
		if err := d.Watchers.WatchWorktree(repo.ID, wt.Branch, wt.Path); err != nil {
			d.Logger.Warn("daemon: failed to arm watcher", "repo_id", repo.ID, "branch", wt.Branch, "error", err)
		}
	}
	return repo, nil
}

// ListRepos returns every registered repo.
func (d *Daemon) ListRepos() ([]store.Repo, error) {
	return d.Store.LoadRepos()
}

// RemoveRepo unregisters a repo and stops any watchers scoped to it.
func (d *Daemon) RemoveRepo(repoID string) error {
	repo, ok, err := d.Store.GetRepo(repoID)
	if err != nil {
		return err
	}
	if !ok {
		return wireerr.New(wireerr.NotFound, "daemon: repo %q not found", repoID)
	}

	worktrees, err := d.Git.ListWorktrees(repo.Path)
	if err == nil {
		for _, wt := range worktrees {
			d.Watchers.UnwatchWorktree(repoID, wt.Branch)
		}
	}
	return d.Store.RemoveRepo(repoID)
}

func (d *Daemon) requireRepo(repoID string) (store.Repo, error) {
	repo, ok, err := d.Store.GetRepo(repoID)
	if err != nil {
		return store.Repo{}, err
	}
	if !ok {
		return store.Repo{}, wireerr.New(wireerr.NotFound, "daemon: repo %q not found", repoID)
	}
	return repo, nil
}

// ListWorktrees lists a repo's worktrees annotated with live session counts.
func (d *Daemon) ListWorktrees(repoID string) ([]WorktreeInfo, error) {
	repo, err := d.requireRepo(repoID)
	if err != nil {
		return nil, err
	}

	worktrees, err := d.Git.ListWorktrees(repo.Path)
	if err != nil {
		return nil, wireerr.Wrap(wireerr.Internal, err, "daemon: list worktrees")
	}

	d.mu.RLock()
	counts := make(map[string]int)
	for _, e := range d.sessions {
		if e.sess.RepoID == repoID {
			counts[e.sess.Branch]++
		}
	}
	d.mu.RUnlock()

	infos := make([]WorktreeInfo, 0, len(worktrees))
	for _, wt := range worktrees {
		infos = append(infos, WorktreeInfo{
			Path: wt.Path, Branch: wt.Branch, IsMain: wt.IsMain,
			SessionCount: counts[wt.Branch],
		})
	}
	return infos, nil
}

// CreateWorktree creates a worktree for branch (optionally from baseBranch)
// and arms its watcher. Creation is idempotent if the branch already has a
// worktree, matching C4's semantics.
func (d *Daemon) CreateWorktree(repoID, branch string, baseBranch *string) (WorktreeInfo, error) {
	repo, err := d.requireRepo(repoID)
	if err != nil {
		return WorktreeInfo{}, err
	}

	basePath := d.Config.WorktreeBase
	path, err := d.Git.CreateWorktree(repo.Path, branch, basePath, baseBranch)
	if err != nil {
		return WorktreeInfo{}, err
	}

	if err := d.Watchers.WatchWorktree(repoID, branch, path); err != nil {
		d.Logger.Warn("daemon: failed to arm watcher for new worktree", "repo_id", repoID, "branch", branch, "error", err)
	}

	d.Bus.EmitWorktreeAdded(repoID, branch, path)

	return WorktreeInfo{Path: path, Branch: branch, IsMain: false}, nil
}

// RemoveWorktree refuses while any session still references the worktree's
// branch; otherwise it stops the watcher before removing the directory.
func (d *Daemon) RemoveWorktree(repoID, branch string) error {
	repo, err := d.requireRepo(repoID)
	if err != nil {
		return err
	}

	d.mu.RLock()
	for _, e := range d.sessions {
		if e.sess.RepoID == repoID && e.sess.Branch == branch {
			d.mu.RUnlock()
			return wireerr.New(wireerr.FailedPrecondition,
				"daemon: worktree %s/%s still has sessions referencing it", repoID, branch)
		}
	}
	d.mu.RUnlock()

	d.Watchers.UnwatchWorktree(repoID, branch)

	if err := d.Git.RemoveWorktree(repo.Path, branch); err != nil {
		return err
	}

	d.Bus.EmitWorktreeRemoved(repoID, branch)
	return nil
}

// DeleteBranch surfaces C4's DeleteBranch verbatim.
func (d *Daemon) DeleteBranch(repoID, branch string) error {
	repo, err := d.requireRepo(repoID)
	if err != nil {
		return err
	}
	return d.Git.DeleteBranch(repo.Path, branch)
}
