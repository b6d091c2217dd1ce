package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wtmux/internal/config"
	"wtmux/internal/eventbus"
	"wtmux/internal/git"
	"wtmux/internal/provider"
	"wtmux/internal/store"
	"wtmux/internal/watch"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Env, "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t.com",
		"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t.com")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "t@t.com")
	runGit(t, dir, "config", "user.name", "t")
	if err := exec.Command("sh", "-c", "echo hi > "+filepath.Join(dir, "README.md")).Run(); err != nil {
		t.Fatalf("write README: %v", err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "init")
	return dir
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := &config.Config{DataDir: t.TempDir(), WorktreeBase: t.TempDir(), DefaultProvider: "claude"}
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	bus := eventbus.New(nil)
	gitMgr := git.New(nil)
	watchers := watch.NewManager(bus, nil)
	t.Cleanup(watchers.StopAll)
	registry := provider.NewRegistry()

	d, err := New(cfg, nil, gitMgr, bus, watchers, st, registry)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Shutdown() })
	return d
}

func TestAddRepoIsIdempotentAndArmsWatchers(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)

	r1, err := d.AddRepo(repoPath)
	if err != nil {
		t.Fatalf("AddRepo: %v", err)
	}
	r2, err := d.AddRepo(repoPath)
	if err != nil {
		t.Fatalf("AddRepo (second): %v", err)
	}
	if r1.ID != r2.ID {
		t.Errorf("AddRepo not idempotent: %s != %s", r1.ID, r2.ID)
	}

	repos, err := d.ListRepos()
	if err != nil {
		t.Fatalf("ListRepos: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("len(repos) = %d, want 1", len(repos))
	}
}

func TestCreateWorktreeAndListWorktrees(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)
	repo, err := d.AddRepo(repoPath)
	if err != nil {
		t.Fatalf("AddRepo: %v", err)
	}

	_, err = d.CreateWorktree(repo.ID, "feature-x", nil)
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	worktrees, err := d.ListWorktrees(repo.ID)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	found := false
	for _, wt := range worktrees {
		if wt.Branch == "feature-x" {
			found = true
		}
	}
	if !found {
		t.Errorf("ListWorktrees = %+v, want feature-x present", worktrees)
	}
}

func TestCreateSessionAutoCreatesWorktreeAndNamesSession(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)
	repo, err := d.AddRepo(repoPath)
	if err != nil {
		t.Fatalf("AddRepo: %v", err)
	}

	info, err := d.CreateSession(CreateSessionParams{
		RepoID: repo.ID, Branch: "feature-y", IsShell: true,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if info.Name != "shell-1" {
		t.Errorf("Name = %q, want shell-1", info.Name)
	}

	worktrees, err := d.ListWorktrees(repo.ID)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	found := false
	for _, wt := range worktrees {
		if wt.Branch == "feature-y" {
			found = true
			if wt.SessionCount != 1 {
				t.Errorf("SessionCount = %d, want 1", wt.SessionCount)
			}
		}
	}
	if !found {
		t.Error("expected auto-created worktree for feature-y")
	}
}

func TestCreateSessionNamesAreSequentialPerRepoBranch(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)
	repo, _ := d.AddRepo(repoPath)

	first, err := d.CreateSession(CreateSessionParams{RepoID: repo.ID, Branch: "main", IsShell: true})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second, err := d.CreateSession(CreateSessionParams{RepoID: repo.ID, Branch: "main", IsShell: true})
	if err != nil {
		t.Fatalf("CreateSession (second): %v", err)
	}
	if first.Name != "shell-1" || second.Name != "shell-2" {
		t.Errorf("names = %q, %q, want shell-1, shell-2", first.Name, second.Name)
	}
}

func TestRenameSessionIsSticky(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)
	repo, _ := d.AddRepo(repoPath)

	info, err := d.CreateSession(CreateSessionParams{RepoID: repo.ID, Branch: "main", IsShell: true})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := d.RenameSession(info.ID, "my-session"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}

	sessions := d.ListSessions(repo.ID, "main")
	if len(sessions) != 1 || sessions[0].Name != "my-session" {
		t.Errorf("ListSessions = %+v, want renamed session", sessions)
	}
}

func TestRemoveWorktreeRefusesWhileSessionsReferenceIt(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)
	repo, _ := d.AddRepo(repoPath)

	_, err := d.CreateSession(CreateSessionParams{RepoID: repo.ID, Branch: "busy-branch", IsShell: true})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := d.RemoveWorktree(repo.ID, "busy-branch"); err == nil {
		t.Error("expected RemoveWorktree to refuse while a session references the worktree")
	}
}

func TestDestroySessionRemovesItFromListings(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)
	repo, _ := d.AddRepo(repoPath)

	info, err := d.CreateSession(CreateSessionParams{RepoID: repo.ID, Branch: "main", IsShell: true})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := d.DestroySession(info.ID); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}

	sessions := d.ListSessions(repo.ID, "main")
	if len(sessions) != 0 {
		t.Errorf("ListSessions = %+v, want empty after destroy", sessions)
	}
}

func TestGetGitStatusOnCleanWorktree(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)
	repo, _ := d.AddRepo(repoPath)

	status, err := d.GetGitStatus(repo.ID, "main")
	if err != nil {
		t.Fatalf("GetGitStatus: %v", err)
	}
	if len(status.Staged) != 0 || len(status.Unstaged) != 0 || len(status.Untracked) != 0 {
		t.Errorf("expected clean status, got %+v", status)
	}
}

// TestCreateSessionFallsBackToLocalPromptFile exercises CreateSession's
// local-prompt-file fallback (internal/prompt.GetLocalPrompt) end to end: a
// fake provider echoes its received prompt into the PTY, so the worktree's
// .wtmux_prompt file's contents must appear in the session's live screen
// state once the provider process has run.
func TestCreateSessionFallsBackToLocalPromptFile(t *testing.T) {
	d := newTestDaemon(t)
	d.Registry.Register(&provider.Descriptor{
		Name: "echoprompt", DisplayName: "Echo Prompt",
		Models: []string{"default"}, DefaultModel: "default",
		BuildCommand: func(mode provider.Mode, model, sessionID, prompt string) (provider.BuildResult, error) {
			return provider.BuildResult{
				Argv: []string{"sh", "-c", `printf '%s' "$PROMPT"`},
				Env:  []string{"PROMPT=" + prompt},
			}, nil
		},
	})

	repoPath := newTestRepo(t)
	repo, _ := d.AddRepo(repoPath)

	wt, err := d.CreateWorktree(repo.ID, "feature-prompt", nil)
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wt.Path, ".wtmux_prompt"), []byte("default prompt text"), 0644); err != nil {
		t.Fatalf("write .wtmux_prompt: %v", err)
	}

	info, err := d.CreateSession(CreateSessionParams{RepoID: repo.ID, Branch: "feature-prompt", Provider: "echoprompt"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	d.mu.RLock()
	entry := d.sessions[info.ID]
	d.mu.RUnlock()
	if entry == nil {
		t.Fatal("session entry missing")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if strings.Contains(string(entry.sess.GetScreenState()), "default prompt text") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("screen state = %q, want it to contain the local prompt file's contents", entry.sess.GetScreenState())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCommentAndTodoCRUDThroughDaemon(t *testing.T) {
	d := newTestDaemon(t)
	repoPath := newTestRepo(t)
	repo, _ := d.AddRepo(repoPath)

	c, err := d.AddComment(repo.ID, "main", "main.go", 10, store.LineNew, "hello")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	comments, err := d.ListComments(repo.ID, "main")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 1 || comments[0].ID != c.ID {
		t.Fatalf("ListComments = %+v", comments)
	}

	todo, err := d.AddTodo(repo.ID, "write tests", "", nil)
	if err != nil {
		t.Fatalf("AddTodo: %v", err)
	}
	todos, err := d.ListTodos(repo.ID)
	if err != nil {
		t.Fatalf("ListTodos: %v", err)
	}
	if len(todos) != 1 || todos[0].ID != todo.ID {
		t.Fatalf("ListTodos = %+v", todos)
	}
}
