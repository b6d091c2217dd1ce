package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"wtmux/internal/wireerr"
)

func runOK(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runOK(t, dir, "init", "-q", "-b", "main")
	runOK(t, dir, "config", "user.email", "test@example.com")
	runOK(t, dir, "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runOK(t, dir, "add", "README.md")
	runOK(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func TestNew(t *testing.T) {
	m := New(nil)
	if m.logger == nil {
		t.Error("New(nil) should default the logger")
	}
}

func TestFindMainRepoPathOnRepoItself(t *testing.T) {
	repo := initRepo(t)
	got, err := FindMainRepoPath(repo)
	if err != nil {
		t.Fatalf("FindMainRepoPath: %v", err)
	}
	want, _ := filepath.EvalSymlinks(repo)
	if got != want {
		t.Errorf("FindMainRepoPath(%q) = %q, want %q", repo, got, want)
	}
}

func TestFindMainRepoPathOnNonRepo(t *testing.T) {
	dir := t.TempDir()
	if _, err := FindMainRepoPath(dir); err == nil {
		t.Error("expected an error for a non-repo directory")
	}
}

func TestFindMainRepoPathFromWorktree(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)

	wtPath, err := m.CreateWorktree(repo, "feature-x", filepath.Join(filepath.Dir(repo), "wt"), nil)
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	got, err := FindMainRepoPath(wtPath)
	if err != nil {
		t.Fatalf("FindMainRepoPath(worktree): %v", err)
	}
	want, _ := filepath.EvalSymlinks(repo)
	if got != want {
		t.Errorf("FindMainRepoPath(%q) = %q, want %q", wtPath, got, want)
	}
}

func TestCreateWorktreeNaming(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	base := filepath.Join(filepath.Dir(repo), "myrepo")

	path, err := m.CreateWorktree(repo, "feature/login", base, nil)
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	want := base + "--feature-login"
	if path != want {
		t.Errorf("CreateWorktree path = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("worktree directory missing: %v", err)
	}
}

func TestCreateWorktreeIsIdempotent(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	base := filepath.Join(filepath.Dir(repo), "myrepo")

	first, err := m.CreateWorktree(repo, "feature-x", base, nil)
	if err != nil {
		t.Fatalf("first CreateWorktree: %v", err)
	}
	second, err := m.CreateWorktree(repo, "feature-x", base, nil)
	if err != nil {
		t.Fatalf("second CreateWorktree: %v", err)
	}
	if first != second {
		t.Errorf("CreateWorktree not idempotent: %q vs %q", first, second)
	}
}

func TestCreateWorktreeFromExistingBranch(t *testing.T) {
	repo := initRepo(t)
	runOK(t, repo, "branch", "existing-branch")
	m := New(nil)
	base := filepath.Join(filepath.Dir(repo), "myrepo")

	path, err := m.CreateWorktree(repo, "existing-branch", base, nil)
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("worktree directory missing: %v", err)
	}
}

func TestCreateWorktreePathBlockedByForeignDirectory(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	base := filepath.Join(filepath.Dir(repo), "myrepo")
	blocked := base + "--feature-x"
	if err := os.MkdirAll(blocked, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(blocked, "unrelated.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := m.CreateWorktree(repo, "feature-x", base, nil)
	if err == nil {
		t.Fatal("expected PathBlocked error")
	}
	gerr, ok := err.(*Error)
	if !ok || gerr.Kind != PathBlocked {
		t.Errorf("err = %v, want *Error{Kind: PathBlocked}", err)
	}
	if gerr.WireKind() != wireerr.AlreadyExists {
		t.Errorf("WireKind() = %v, want AlreadyExists", gerr.WireKind())
	}
}

func TestListWorktreesIncludesMain(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	base := filepath.Join(filepath.Dir(repo), "myrepo")
	if _, err := m.CreateWorktree(repo, "feature-x", base, nil); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	worktrees, err := m.ListWorktrees(repo)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(worktrees) != 2 {
		t.Fatalf("len(worktrees) = %d, want 2", len(worktrees))
	}
	if !worktrees[0].IsMain {
		t.Error("first worktree should be the main one")
	}
}

func TestRemoveWorktree(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	base := filepath.Join(filepath.Dir(repo), "myrepo")
	path, err := m.CreateWorktree(repo, "feature-x", base, nil)
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	if err := m.RemoveWorktree(repo, "feature-x"); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("worktree directory should be gone")
	}
}

func TestRemoveWorktreeUnknownBranch(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	err := m.RemoveWorktree(repo, "does-not-exist")
	if err == nil {
		t.Fatal("expected an error for an unknown branch")
	}
	if gerr, ok := err.(*Error); !ok || gerr.Kind != BranchNotFound {
		t.Errorf("err = %v, want *Error{Kind: BranchNotFound}", err)
	}
}

func TestDeleteBranchRefusesLiveWorktree(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	base := filepath.Join(filepath.Dir(repo), "myrepo")
	if _, err := m.CreateWorktree(repo, "feature-x", base, nil); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	err := m.DeleteBranch(repo, "feature-x")
	if err == nil {
		t.Fatal("expected an error deleting a branch with a live worktree")
	}
	gerr, ok := err.(*Error)
	if !ok || gerr.Kind != CannotDeleteBranch {
		t.Errorf("err = %v, want *Error{Kind: CannotDeleteBranch}", err)
	}
	if gerr.WireKind() != wireerr.FailedPrecondition {
		t.Errorf("WireKind() = %v, want FailedPrecondition", gerr.WireKind())
	}
}

func TestDeleteBranchRefusesCurrentBranch(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	err := m.DeleteBranch(repo, "main")
	if err == nil {
		t.Fatal("expected an error deleting the current branch")
	}
	gerr, ok := err.(*Error)
	if !ok || gerr.Kind != CannotDeleteBranch {
		t.Errorf("err = %v, want *Error{Kind: CannotDeleteBranch}", err)
	}
}

func TestDeleteBranchSucceeds(t *testing.T) {
	repo := initRepo(t)
	runOK(t, repo, "branch", "stale-branch")
	m := New(nil)
	if err := m.DeleteBranch(repo, "stale-branch"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
}

func TestGetStatusCategorizesFiles(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)

	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("changed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "new.txt"), []byte("new\n"), 0644); err != nil {
		t.Fatal(err)
	}

	status, err := m.GetStatus(repo)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(status.Unstaged) != 1 || status.Unstaged[0].Path != "README.md" {
		t.Errorf("Unstaged = %+v, want [README.md modified]", status.Unstaged)
	}
	if len(status.Untracked) != 1 || status.Untracked[0].Path != "new.txt" {
		t.Errorf("Untracked = %+v, want [new.txt]", status.Untracked)
	}
}

func TestStageAndUnstageFile(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("changed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := m.StageFile(repo, "README.md"); err != nil {
		t.Fatalf("StageFile: %v", err)
	}
	status, _ := m.GetStatus(repo)
	if len(status.Staged) != 1 {
		t.Fatalf("Staged = %+v, want one entry", status.Staged)
	}

	if err := m.UnstageFile(repo, "README.md"); err != nil {
		t.Fatalf("UnstageFile: %v", err)
	}
	status, _ = m.GetStatus(repo)
	if len(status.Staged) != 0 {
		t.Errorf("Staged = %+v, want none after unstage", status.Staged)
	}
}

func TestStageAllAndUnstageAll(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	if err := os.WriteFile(filepath.Join(repo, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := m.StageAll(repo); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	status, _ := m.GetStatus(repo)
	if len(status.Staged) != 2 {
		t.Fatalf("Staged = %+v, want 2 entries", status.Staged)
	}

	if err := m.UnstageAll(repo); err != nil {
		t.Fatalf("UnstageAll: %v", err)
	}
	status, _ = m.GetStatus(repo)
	if len(status.Staged) != 0 {
		t.Errorf("Staged = %+v, want none after unstage all", status.Staged)
	}
}

func TestPullFastForwards(t *testing.T) {
	remote := initRepo(t)
	clone := t.TempDir()
	runOK(t, filepath.Dir(clone), "clone", "-q", remote, clone)

	if err := os.WriteFile(filepath.Join(remote, "README.md"), []byte("updated\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runOK(t, remote, "add", "README.md")
	runOK(t, remote, "commit", "-q", "-m", "update")

	m := New(nil)
	if err := m.Pull(clone, "origin"); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(clone, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "updated\n" {
		t.Errorf("README.md = %q, want %q after pull", data, "updated\n")
	}
}

func TestPullConflictAbortsAndSurfaces(t *testing.T) {
	remote := initRepo(t)
	clone := t.TempDir()
	runOK(t, filepath.Dir(clone), "clone", "-q", remote, clone)
	runOK(t, clone, "config", "user.email", "test@example.com")
	runOK(t, clone, "config", "user.name", "Test")

	// Diverge the remote.
	if err := os.WriteFile(filepath.Join(remote, "README.md"), []byte("remote change\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runOK(t, remote, "add", "README.md")
	runOK(t, remote, "commit", "-q", "-m", "remote change")

	// Diverge the clone on the same line so rebase conflicts.
	if err := os.WriteFile(filepath.Join(clone, "README.md"), []byte("local change\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runOK(t, clone, "add", "README.md")
	runOK(t, clone, "commit", "-q", "-m", "local change")

	m := New(nil)
	err := m.Pull(clone, "origin")
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	gerr, ok := err.(*Error)
	if !ok || gerr.Kind != Conflict {
		t.Errorf("err = %v, want *Error{Kind: Conflict}", err)
	}

	status, statusErr := m.GetStatus(clone)
	if statusErr != nil {
		t.Fatalf("GetStatus after aborted pull: %v", statusErr)
	}
	if len(status.Staged) != 0 || len(status.Unstaged) != 0 {
		t.Errorf("status not clean after aborted rebase: %+v", status)
	}
}

func TestGetDiffFilesIncludesUntrackedAndModified(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\nworld\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "new.txt"), []byte("line1\nline2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := m.GetDiffFiles(repo)
	if err != nil {
		t.Fatalf("GetDiffFiles: %v", err)
	}
	byPath := make(map[string]DiffFile)
	for _, f := range files {
		byPath[f.Path] = f
	}
	if f, ok := byPath["README.md"]; !ok || f.Additions == 0 {
		t.Errorf("README.md diff = %+v, want additions > 0", f)
	}
	if f, ok := byPath["new.txt"]; !ok || f.Status != StatusUntracked || f.Additions != 2 {
		t.Errorf("new.txt diff = %+v, want untracked with 2 additions", f)
	}
}

func TestGetFileDiffUntrackedIsSyntheticAddition(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	if err := os.WriteFile(filepath.Join(repo, "new.txt"), []byte("a\nb\n"), 0644); err != nil {
		t.Fatal(err)
	}

	lines, err := m.GetFileDiff(repo, "new.txt")
	if err != nil {
		t.Fatalf("GetFileDiff: %v", err)
	}
	additions := 0
	for _, l := range lines {
		if l.Kind == DiffAddition {
			additions++
		}
	}
	if additions != 2 {
		t.Errorf("additions = %d, want 2", additions)
	}
}

func TestGetFileDiffTrackedModified(t *testing.T) {
	repo := initRepo(t)
	m := New(nil)
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("changed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	lines, err := m.GetFileDiff(repo, "README.md")
	if err != nil {
		t.Fatalf("GetFileDiff: %v", err)
	}
	var sawAddition, sawDeletion bool
	for _, l := range lines {
		switch l.Kind {
		case DiffAddition:
			sawAddition = true
		case DiffDeletion:
			sawDeletion = true
		}
	}
	if !sawAddition || !sawDeletion {
		t.Errorf("expected both an addition and a deletion line, lines=%+v", lines)
	}
}
