// Package git provides worktree-aware Git operations by shelling out to the
// git binary. Every operation takes a repository or worktree path and
// resolves repository identity through it; none of it assumes a
// process-wide current directory.
package git

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"wtmux/internal/wireerr"
)

// ErrorKind is Git's own, finer-grained failure taxonomy. WireKind maps it
// onto the small set of wire kinds the daemon's RPC boundary exposes.
type ErrorKind string

const (
	OpenRepo           ErrorKind = "open_repo"
	BranchNotFound     ErrorKind = "branch_not_found"
	CannotDeleteBranch ErrorKind = "cannot_delete_branch"
	NoWorkdir          ErrorKind = "no_workdir"
	PathBlocked        ErrorKind = "path_blocked"
	Auth               ErrorKind = "auth"
	Conflict           ErrorKind = "conflict"
	Io                 ErrorKind = "io"
	Other              ErrorKind = "other"
)

// Error is a classified Git failure.
type Error struct {
	Kind   ErrorKind
	Branch string
	Reason string
	cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case CannotDeleteBranch:
		return fmt.Sprintf("git: cannot delete branch %q: %s", e.Branch, e.Reason)
	case BranchNotFound:
		return fmt.Sprintf("git: branch %q not found", e.Branch)
	default:
		if e.cause != nil {
			return fmt.Sprintf("git: %s: %s", e.Kind, e.cause)
		}
		return fmt.Sprintf("git: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// WireKind maps Git's taxonomy onto the daemon's wire error taxonomy.
func (e *Error) WireKind() wireerr.Kind {
	switch e.Kind {
	case OpenRepo, BranchNotFound:
		return wireerr.NotFound
	case CannotDeleteBranch, Conflict:
		return wireerr.FailedPrecondition
	case PathBlocked:
		return wireerr.AlreadyExists
	case Auth:
		return wireerr.PermissionDenied
	default:
		return wireerr.Internal
	}
}

func newErr(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// Manager runs Git operations, placing new worktrees as siblings of the
// path handed to CreateWorktree.
type Manager struct {
	logger *slog.Logger
}

// New creates a Git manager.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Worktree describes one worktree of a repository.
type Worktree struct {
	Path   string
	Branch string
	IsMain bool
}

// StatusKind is a file's Git status.
type StatusKind string

const (
	StatusModified  StatusKind = "modified"
	StatusAdded     StatusKind = "added"
	StatusDeleted   StatusKind = "deleted"
	StatusRenamed   StatusKind = "renamed"
	StatusUntracked StatusKind = "untracked"
)

// StatusFile is one file entry in a status listing.
type StatusFile struct {
	Path   string
	Status StatusKind
}

// StatusResult is the three-way categorization GetStatus returns.
type StatusResult struct {
	Staged    []StatusFile
	Unstaged  []StatusFile
	Untracked []StatusFile
}

// DiffFile summarizes one changed file for a diff overview.
type DiffFile struct {
	Path      string
	Status    StatusKind
	Additions int
	Deletions int
}

// DiffLineKind tags a single rendered diff line.
type DiffLineKind string

const (
	DiffHeader   DiffLineKind = "header"
	DiffContext  DiffLineKind = "context"
	DiffAddition DiffLineKind = "addition"
	DiffDeletion DiffLineKind = "deletion"
)

// DiffLine is one line of a rendered unified diff.
type DiffLine struct {
	Kind    DiffLineKind
	Text    string
	OldLine int // 0 when not applicable
	NewLine int // 0 when not applicable
}

func (m *Manager) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = os.Environ() // SSH agent discovery rides on inherited environment

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// FindMainRepoPath canonicalizes p and, if it is a worktree, resolves
// through its .git pointer file to the main repository's path by walking
// the gitdir's ancestors for a ".git" path component, rather than assuming
// a fixed number of directory levels up (which breaks for nested worktree
// layouts git itself uses in some configurations).
func FindMainRepoPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", newErr(Io, err)
	}

	gitPath := filepath.Join(abs, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", newErr(OpenRepo, err)
	}

	if info.IsDir() {
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", newErr(Io, err)
		}
		return real, nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", newErr(Io, err)
	}
	content := strings.TrimSpace(string(data))
	gitdir := strings.TrimPrefix(content, "gitdir: ")
	if gitdir == content {
		return "", newErr(OpenRepo, fmt.Errorf("unrecognized .git pointer file"))
	}

	dotGit := findAncestorDotGit(gitdir)
	if dotGit == "" {
		return "", newErr(OpenRepo, fmt.Errorf("could not locate main .git from worktree pointer"))
	}

	real, err := filepath.EvalSymlinks(filepath.Dir(dotGit))
	if err != nil {
		return "", newErr(Io, err)
	}
	return real, nil
}

// findAncestorDotGit walks up from p looking for a path component literally
// named ".git", returning that ancestor path, or "" if none is found.
func findAncestorDotGit(p string) string {
	for cur := p; cur != "." && cur != string(filepath.Separator); {
		if filepath.Base(cur) == ".git" {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return ""
}

// ListWorktrees returns the main worktree first, then every auxiliary one.
func (m *Manager) ListWorktrees(repoPath string) ([]Worktree, error) {
	out, err := m.run(repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, newErr(Other, err)
	}

	var worktrees []Worktree
	var cur Worktree
	first := true
	flush := func() {
		if cur.Path != "" {
			cur.IsMain = first
			first = false
			worktrees = append(worktrees, cur)
		}
		cur = Worktree{}
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur.Path != "" {
				flush()
			}
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		case line == "":
			flush()
		}
	}
	flush()

	return worktrees, nil
}

// worktreeSuffix derives the worktree directory's branch component the same
// way CreateWorktree names new directories: `/` normalized to `-`.
func worktreeSuffix(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

// CreateWorktree creates a worktree at {basePath}--{branch} (branch with
// `/` normalized to `-`). It is idempotent for an already-existing worktree
// of the same branch, creates the branch from baseBranch (or HEAD if nil)
// when branch doesn't exist yet, and reclaims a path that exists on disk
// but isn't known to git as a worktree and isn't itself a git checkout.
func (m *Manager) CreateWorktree(repoPath, branch, basePath string, baseBranch *string) (string, error) {
	existing, err := m.ListWorktrees(repoPath)
	if err != nil {
		return "", err
	}
	for _, wt := range existing {
		if wt.Branch == branch {
			return wt.Path, nil
		}
	}

	wtPath := basePath + "--" + worktreeSuffix(branch)

	if _, statErr := os.Stat(wtPath); statErr == nil {
		if _, gitErr := os.Stat(filepath.Join(wtPath, ".git")); gitErr == nil {
			// git doesn't know about this path but it looks like a leftover
			// worktree checkout (e.g. after an interrupted remove); reclaim.
			if rmErr := os.RemoveAll(wtPath); rmErr != nil {
				return "", newErr(Io, rmErr)
			}
		} else {
			return "", newErr(PathBlocked, fmt.Errorf("%s is occupied by a non-git directory", wtPath))
		}
	}

	branchExists := m.branchExists(repoPath, branch)

	args := []string{"worktree", "add"}
	switch {
	case branchExists:
		args = append(args, wtPath, branch)
	case baseBranch != nil && *baseBranch != "":
		args = append(args, "-b", branch, wtPath, *baseBranch)
	default:
		args = append(args, "-b", branch, wtPath)
	}

	if _, err := m.run(repoPath, args...); err != nil {
		return "", newErr(Other, err)
	}

	return wtPath, nil
}

func (m *Manager) branchExists(repoPath, branch string) bool {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

// RemoveWorktree removes branch's worktree directory and git's tracking of
// it, falling back to a prune-plus-manual-removal if git itself refuses.
func (m *Manager) RemoveWorktree(repoPath, branch string) error {
	worktrees, err := m.ListWorktrees(repoPath)
	if err != nil {
		return err
	}

	var target *Worktree
	for i := range worktrees {
		if worktrees[i].Branch == branch {
			target = &worktrees[i]
			break
		}
	}
	if target == nil {
		return &Error{Kind: BranchNotFound, Branch: branch}
	}

	if _, err := m.run(repoPath, "worktree", "remove", "--force", target.Path); err != nil {
		m.logger.Warn("git: worktree remove failed, pruning and removing manually", "branch", branch, "error", err)
		_, _ = m.run(repoPath, "worktree", "prune")
		if rmErr := os.RemoveAll(target.Path); rmErr != nil {
			return newErr(Io, rmErr)
		}
	}

	return nil
}

// DeleteBranch refuses if branch has a live worktree or is the checked-out
// branch of the main worktree, otherwise deletes it.
func (m *Manager) DeleteBranch(repoPath, branch string) error {
	worktrees, err := m.ListWorktrees(repoPath)
	if err != nil {
		return err
	}
	for _, wt := range worktrees {
		if wt.Branch == branch {
			return &Error{Kind: CannotDeleteBranch, Branch: branch, Reason: "it has an active worktree"}
		}
	}

	current, err := m.CurrentBranch(repoPath)
	if err == nil && current == branch {
		return &Error{Kind: CannotDeleteBranch, Branch: branch, Reason: "it is the current branch"}
	}

	if !m.branchExists(repoPath, branch) {
		return &Error{Kind: BranchNotFound, Branch: branch}
	}

	if _, err := m.run(repoPath, "branch", "-D", branch); err != nil {
		return newErr(Other, err)
	}
	return nil
}

// CurrentBranch returns the branch checked out at repoPath.
func (m *Manager) CurrentBranch(repoPath string) (string, error) {
	out, err := m.run(repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", newErr(NoWorkdir, err)
	}
	return strings.TrimSpace(out), nil
}

// GetStatus returns the three-way categorized status of repoPath.
func (m *Manager) GetStatus(repoPath string) (StatusResult, error) {
	out, err := m.run(repoPath, "status", "--porcelain=v1", "-z")
	if err != nil {
		return StatusResult{}, newErr(Other, err)
	}

	var result StatusResult
	entries := strings.Split(strings.TrimRight(out, "\x00"), "\x00")
	for _, entry := range entries {
		if len(entry) < 3 {
			continue
		}
		x, y := entry[0], entry[1]
		path := entry[3:]

		if x == '?' && y == '?' {
			result.Untracked = append(result.Untracked, StatusFile{Path: path, Status: StatusUntracked})
			continue
		}
		if kind, ok := statusKindFor(x); ok {
			result.Staged = append(result.Staged, StatusFile{Path: path, Status: kind})
		}
		if kind, ok := statusKindFor(y); ok {
			result.Unstaged = append(result.Unstaged, StatusFile{Path: path, Status: kind})
		}
	}
	return result, nil
}

func statusKindFor(b byte) (StatusKind, bool) {
	switch b {
	case 'M':
		return StatusModified, true
	case 'A':
		return StatusAdded, true
	case 'D':
		return StatusDeleted, true
	case 'R':
		return StatusRenamed, true
	default:
		return "", false
	}
}

// StageFile adds path to the index, or removes it from the index if the
// file no longer exists in the working tree.
func (m *Manager) StageFile(repoPath, path string) error {
	if _, err := os.Stat(filepath.Join(repoPath, path)); os.IsNotExist(err) {
		if _, err := m.run(repoPath, "rm", "--cached", "--ignore-unmatch", "--", path); err != nil {
			return newErr(Other, err)
		}
		return nil
	}
	if _, err := m.run(repoPath, "add", "--", path); err != nil {
		return newErr(Other, err)
	}
	return nil
}

// UnstageFile resets path in the index to HEAD.
func (m *Manager) UnstageFile(repoPath, path string) error {
	if _, err := m.run(repoPath, "reset", "HEAD", "--", path); err != nil {
		return newErr(Other, err)
	}
	return nil
}

// StageAll adds every tracked and untracked change to the index.
func (m *Manager) StageAll(repoPath string) error {
	if _, err := m.run(repoPath, "add", "-A"); err != nil {
		return newErr(Other, err)
	}
	return nil
}

// UnstageAll resets the entire index to HEAD.
func (m *Manager) UnstageAll(repoPath string) error {
	if _, err := m.run(repoPath, "reset", "HEAD"); err != nil {
		return newErr(Other, err)
	}
	return nil
}

// Push pushes the current branch to remote.
func (m *Manager) Push(repoPath, remote string) error {
	branch, err := m.CurrentBranch(repoPath)
	if err != nil {
		return err
	}
	if _, err := m.run(repoPath, "push", remote, branch); err != nil {
		if isAuthFailure(err) {
			return newErr(Auth, err)
		}
		return newErr(Other, err)
	}
	return nil
}

// Pull fetches from remote and fast-forwards the current branch if
// possible, otherwise rebases onto it. A rebase conflict is aborted and
// surfaced rather than left half-applied — pull is a direct user action,
// not disposable bookkeeping, so it must never leave the tree mid-rebase.
func (m *Manager) Pull(repoPath, remote string) error {
	branch, err := m.CurrentBranch(repoPath)
	if err != nil {
		return err
	}

	if _, err := m.run(repoPath, "fetch", remote, branch); err != nil {
		if isAuthFailure(err) {
			return newErr(Auth, err)
		}
		return newErr(Other, err)
	}

	if _, err := m.run(repoPath, "merge", "--ff-only", remote+"/"+branch); err == nil {
		return nil
	}

	if _, err := m.run(repoPath, "rebase", remote+"/"+branch); err != nil {
		_, _ = m.run(repoPath, "rebase", "--abort")
		return &Error{Kind: Conflict, Branch: branch, cause: err}
	}
	return nil
}

func isAuthFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "could not read username") ||
		strings.Contains(msg, "could not read password")
}

// GetDiffFiles returns the union of (index+workdir vs HEAD) and untracked
// entries, each with line-change counts.
func (m *Manager) GetDiffFiles(worktreePath string) ([]DiffFile, error) {
	files := make(map[string]*DiffFile)

	out, err := m.run(worktreePath, "diff", "--numstat", "HEAD")
	if err != nil {
		return nil, newErr(Other, err)
	}
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		var add, del int
		fmt.Sscanf(fields[0], "%d", &add)
		fmt.Sscanf(fields[1], "%d", &del)
		path := fields[2]
		files[path] = &DiffFile{Path: path, Status: StatusModified, Additions: add, Deletions: del}
	}

	status, err := m.GetStatus(worktreePath)
	if err != nil {
		return nil, err
	}
	for _, u := range status.Untracked {
		lines, _ := countFileLines(filepath.Join(worktreePath, u.Path))
		files[u.Path] = &DiffFile{Path: u.Path, Status: StatusUntracked, Additions: lines}
	}
	for _, s := range status.Staged {
		if f, ok := files[s.Path]; ok {
			f.Status = s.Status
		} else {
			files[s.Path] = &DiffFile{Path: s.Path, Status: s.Status}
		}
	}

	result := make([]DiffFile, 0, len(files))
	for _, f := range files {
		result = append(result, *f)
	}
	return result, nil
}

func countFileLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	n := bytes.Count(data, []byte("\n"))
	if data[len(data)-1] != '\n' {
		n++
	}
	return n, nil
}

// GetFileDiff returns path's diff against HEAD as tagged lines. An
// untracked path is rendered as an all-addition synthetic diff, since `git
// diff HEAD` shows nothing for it.
func (m *Manager) GetFileDiff(worktreePath, path string) ([]DiffLine, error) {
	status, err := m.GetStatus(worktreePath)
	if err != nil {
		return nil, err
	}
	for _, u := range status.Untracked {
		if u.Path == path {
			return m.syntheticAdditionDiff(worktreePath, path)
		}
	}

	out, err := m.run(worktreePath, "diff", "HEAD", "--", path)
	if err != nil {
		return nil, newErr(Other, err)
	}
	return parseUnifiedDiff(out), nil
}

func (m *Manager) syntheticAdditionDiff(worktreePath, path string) ([]DiffLine, error) {
	data, err := os.ReadFile(filepath.Join(worktreePath, path))
	if err != nil {
		return nil, newErr(Io, err)
	}

	lines := []DiffLine{{Kind: DiffHeader, Text: fmt.Sprintf("--- /dev/null\n+++ b/%s", path)}}
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return lines, nil
	}
	for i, text := range strings.Split(content, "\n") {
		lines = append(lines, DiffLine{Kind: DiffAddition, Text: text, NewLine: i + 1})
	}
	return lines, nil
}

func parseUnifiedDiff(raw string) []DiffLine {
	var lines []DiffLine
	oldLine, newLine := 0, 0

	for _, text := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(text, "@@"):
			lines = append(lines, DiffLine{Kind: DiffHeader, Text: text})
			oldLine, newLine = parseHunkHeader(text)
		case strings.HasPrefix(text, "diff "), strings.HasPrefix(text, "index "),
			strings.HasPrefix(text, "---"), strings.HasPrefix(text, "+++"):
			lines = append(lines, DiffLine{Kind: DiffHeader, Text: text})
		case strings.HasPrefix(text, "+"):
			lines = append(lines, DiffLine{Kind: DiffAddition, Text: text[1:], NewLine: newLine})
			newLine++
		case strings.HasPrefix(text, "-"):
			lines = append(lines, DiffLine{Kind: DiffDeletion, Text: text[1:], OldLine: oldLine})
			oldLine++
		case text == "":
		default:
			body := strings.TrimPrefix(text, " ")
			lines = append(lines, DiffLine{Kind: DiffContext, Text: body, OldLine: oldLine, NewLine: newLine})
			oldLine++
			newLine++
		}
	}
	return lines
}

func parseHunkHeader(header string) (oldLine, newLine int) {
	var oldStart, newStart int
	for _, p := range strings.Fields(header) {
		if strings.HasPrefix(p, "-") {
			fmt.Sscanf(strings.TrimPrefix(p, "-"), "%d", &oldStart)
		} else if strings.HasPrefix(p, "+") {
			fmt.Sscanf(strings.TrimPrefix(p, "+"), "%d", &newStart)
		}
	}
	return oldStart, newStart
}
