package store

import (
	"testing"
	"time"

	"wtmux/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestDeriveRepoIDIsStablePerPath(t *testing.T) {
	a := DeriveRepoID("/home/user/project")
	b := DeriveRepoID("/home/user/project")
	c := DeriveRepoID("/home/user/other")
	if a != b {
		t.Error("DeriveRepoID is not stable for the same path")
	}
	if a == c {
		t.Error("DeriveRepoID collided for different paths")
	}
}

func TestAddRepoIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	r1, err := s.AddRepo("/home/user/project", "project")
	if err != nil {
		t.Fatalf("AddRepo: %v", err)
	}
	r2, err := s.AddRepo("/home/user/project", "project-renamed")
	if err != nil {
		t.Fatalf("AddRepo (second): %v", err)
	}
	if r1.ID != r2.ID || r2.Name != "project" {
		t.Errorf("second AddRepo should return the existing entry unchanged, got %+v", r2)
	}

	repos, err := s.LoadRepos()
	if err != nil {
		t.Fatalf("LoadRepos: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("len(repos) = %d, want 1", len(repos))
	}
}

func TestRemoveRepo(t *testing.T) {
	s := newTestStore(t)
	r, _ := s.AddRepo("/home/user/project", "project")

	if err := s.RemoveRepo(r.ID); err != nil {
		t.Fatalf("RemoveRepo: %v", err)
	}

	repos, err := s.LoadRepos()
	if err != nil {
		t.Fatalf("LoadRepos: %v", err)
	}
	if len(repos) != 0 {
		t.Errorf("expected repo to be removed, got %+v", repos)
	}
}

func TestGetRepoNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetRepo("nonexistent")
	if err != nil {
		t.Fatalf("GetRepo: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing repo")
	}
}

func TestSaveAndLoadSessions(t *testing.T) {
	s := newTestStore(t)

	meta := SessionMeta{
		ID:           "sess-1",
		Name:         "claude-1",
		RepoID:       "repo-1",
		Branch:       "main",
		WorktreePath: "/tmp/wt",
		Provider:     "claude",
		Kind:         session.KindInteractive,
		Rows:         24,
		Cols:         80,
		CreatedAt:    time.Now(),
	}
	if err := s.SaveSession(meta); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	metas, err := s.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != "sess-1" {
		t.Fatalf("LoadSessions = %+v, want one session sess-1", metas)
	}
}

func TestDeleteSessionRemovesMetaAndHistory(t *testing.T) {
	s := newTestStore(t)
	meta := SessionMeta{ID: "sess-1", CreatedAt: time.Now()}
	if err := s.SaveSession(meta); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.WriteHistory("sess-1", []byte("hello")); err != nil {
		t.Fatalf("WriteHistory: %v", err)
	}

	if err := s.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	metas, err := s.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("expected no sessions after delete, got %+v", metas)
	}
}

func TestWriteAndReadHistory(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteHistory("sess-1", []byte("raw bytes")); err != nil {
		t.Fatalf("WriteHistory: %v", err)
	}
	data, err := s.ReadHistory("sess-1")
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if string(data) != "raw bytes" {
		t.Errorf("ReadHistory = %q, want %q", data, "raw bytes")
	}
}

func TestReadHistoryMissingReturnsNilNoError(t *testing.T) {
	s := newTestStore(t)
	data, err := s.ReadHistory("never-written")
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil data for missing history, got %v", data)
	}
}

func TestNextSessionNameSmallestFree(t *testing.T) {
	cases := []struct {
		name     string
		existing []string
		want     string
	}{
		{"empty", nil, "claude-1"},
		{"sequential", []string{"claude-1", "claude-2"}, "claude-3"},
		{"gap", []string{"claude-1", "claude-3"}, "claude-2"},
		{"renamed siblings ignored", []string{"claude-1", "my-renamed-session"}, "claude-2"},
		{"other provider ignored", []string{"codex-1"}, "claude-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextSessionName("claude", tc.existing)
			if got != tc.want {
				t.Errorf("NextSessionName(%v) = %q, want %q", tc.existing, got, tc.want)
			}
		})
	}
}

func TestCommentCRUD(t *testing.T) {
	s := newTestStore(t)
	c := Comment{
		ID: "c1", RepoID: "repo-1", Branch: "main",
		FilePath: "main.go", LineNumber: 10, LineType: LineNew,
		Text: "why is this unbuffered?", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.AddComment(c); err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	list, err := s.ListComments("repo-1", "main")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(list) != 1 || list[0].Text != c.Text {
		t.Fatalf("ListComments = %+v", list)
	}

	if err := s.UpdateComment("repo-1", "main", "c1", "actually fine"); err != nil {
		t.Fatalf("UpdateComment: %v", err)
	}
	list, _ = s.ListComments("repo-1", "main")
	if list[0].Text != "actually fine" {
		t.Errorf("UpdateComment did not take effect: %+v", list[0])
	}

	if err := s.DeleteComment("repo-1", "main", "c1"); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}
	list, _ = s.ListComments("repo-1", "main")
	if len(list) != 0 {
		t.Errorf("expected comment deleted, got %+v", list)
	}
}

func TestUpdateCommentNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateComment("repo-1", "main", "missing", "x")
	if err == nil {
		t.Fatal("expected NotFound error")
	}
}

func TestTodoOrderingIsDense(t *testing.T) {
	s := newTestStore(t)

	t1, err := s.AddTodo(Todo{ID: "t1", RepoID: "repo-1", Title: "first"})
	if err != nil {
		t.Fatalf("AddTodo: %v", err)
	}
	t2, _ := s.AddTodo(Todo{ID: "t2", RepoID: "repo-1", Title: "second"})
	t3, _ := s.AddTodo(Todo{ID: "t3", RepoID: "repo-1", Title: "third"})

	if t1.Order != 0 || t2.Order != 1 || t3.Order != 2 {
		t.Fatalf("orders = %d,%d,%d, want 0,1,2", t1.Order, t2.Order, t3.Order)
	}

	if err := s.DeleteTodo("repo-1", "t2"); err != nil {
		t.Fatalf("DeleteTodo: %v", err)
	}

	list, err := s.ListTodos("repo-1")
	if err != nil {
		t.Fatalf("ListTodos: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	orders := map[string]int{}
	for _, td := range list {
		orders[td.ID] = td.Order
	}
	if orders["t1"] != 0 || orders["t3"] != 1 {
		t.Errorf("orders after delete = %+v, want t1=0 t3=1 (dense)", orders)
	}
}

func TestTodoChildrenPromotedWhenParentDeleted(t *testing.T) {
	s := newTestStore(t)
	parent, _ := s.AddTodo(Todo{ID: "parent", RepoID: "repo-1", Title: "parent"})
	child, _ := s.AddTodo(Todo{ID: "child", RepoID: "repo-1", Title: "child", ParentID: &parent.ID})

	if child.ParentID == nil || *child.ParentID != "parent" {
		t.Fatalf("child.ParentID = %v, want parent", child.ParentID)
	}

	if err := s.DeleteTodo("repo-1", "parent"); err != nil {
		t.Fatalf("DeleteTodo: %v", err)
	}

	list, _ := s.ListTodos("repo-1")
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	if list[0].ID != "child" || list[0].ParentID != nil {
		t.Errorf("expected child promoted to root, got %+v", list[0])
	}
}

func TestUpdateTodo(t *testing.T) {
	s := newTestStore(t)
	s.AddTodo(Todo{ID: "t1", RepoID: "repo-1", Title: "draft"})

	if err := s.UpdateTodo("repo-1", "t1", "final title", "desc", true); err != nil {
		t.Fatalf("UpdateTodo: %v", err)
	}

	list, _ := s.ListTodos("repo-1")
	if list[0].Title != "final title" || !list[0].Completed {
		t.Errorf("UpdateTodo did not take effect: %+v", list[0])
	}
}
