package daemon

import "wtmux/internal/git"

// Git mutation handlers per spec.md §4.8: surface C4's errors verbatim and
// emit no event themselves — the armed watcher picks up the resulting
// filesystem change and emits GitStatusChanged on its own.

func (d *Daemon) GetGitStatus(repoID, branch string) (git.StatusResult, error) {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return git.StatusResult{}, err
	}
	return d.Git.GetStatus(path)
}

func (d *Daemon) GetDiffFiles(repoID, branch string) ([]git.DiffFile, error) {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return nil, err
	}
	return d.Git.GetDiffFiles(path)
}

func (d *Daemon) GetFileDiff(repoID, branch, file string) ([]git.DiffLine, error) {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return nil, err
	}
	return d.Git.GetFileDiff(path, file)
}

func (d *Daemon) StageFile(repoID, branch, file string) error {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return err
	}
	return d.Git.StageFile(path, file)
}

func (d *Daemon) UnstageFile(repoID, branch, file string) error {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return err
	}
	return d.Git.UnstageFile(path, file)
}

func (d *Daemon) StageAll(repoID, branch string) error {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return err
	}
	return d.Git.StageAll(path)
}

func (d *Daemon) UnstageAll(repoID, branch string) error {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return err
	}
	return d.Git.UnstageAll(path)
}

func (d *Daemon) GitPush(repoID, branch, remote string) error {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return err
	}
	if remote == "" {
		remote = "origin"
	}
	return d.Git.Push(path, remote)
}

func (d *Daemon) GitPull(repoID, branch, remote string) error {
	path, err := d.worktreePath(repoID, branch)
	if err != nil {
		return err
	}
	if remote == "" {
		remote = "origin"
	}
	return d.Git.Pull(path, remote)
}

// worktreePath resolves repoID/branch to the on-disk worktree path that git
// mutation handlers operate against.
func (d *Daemon) worktreePath(repoID, branch string) (string, error) {
	repo, err := d.requireRepo(repoID)
	if err != nil {
		return "", err
	}

	worktrees, err := d.Git.ListWorktrees(repo.Path)
	if err != nil {
		return "", err
	}
	for _, wt := range worktrees {
		if wt.Branch == branch {
			return wt.Path, nil
		}
	}
	return "", &git.Error{Kind: git.BranchNotFound, Branch: branch}
}
