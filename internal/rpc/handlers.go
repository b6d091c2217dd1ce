package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"wtmux/internal/daemon"
	"wtmux/internal/store"
	"wtmux/internal/wireerr"
)

type handlers struct {
	d      *daemon.Daemon
	logger *slog.Logger
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("/AddRepo", h.addRepo)
	mux.HandleFunc("/ListRepos", h.listRepos)
	mux.HandleFunc("/RemoveRepo", h.removeRepo)

	mux.HandleFunc("/ListWorktrees", h.listWorktrees)
	mux.HandleFunc("/CreateWorktree", h.createWorktree)
	mux.HandleFunc("/RemoveWorktree", h.removeWorktree)
	mux.HandleFunc("/DeleteBranch", h.deleteBranch)

	mux.HandleFunc("/ListSessions", h.listSessions)
	mux.HandleFunc("/CreateSession", h.createSession)
	mux.HandleFunc("/RenameSession", h.renameSession)
	mux.HandleFunc("/DestroySession", h.destroySession)
	mux.HandleFunc("/StopSession", h.stopSession)

	mux.HandleFunc("/GetGitStatus", h.getGitStatus)
	mux.HandleFunc("/GetDiffFiles", h.getDiffFiles)
	mux.HandleFunc("/GetFileDiff", h.getFileDiff)
	mux.HandleFunc("/StageFile", h.stageFile)
	mux.HandleFunc("/UnstageFile", h.unstageFile)
	mux.HandleFunc("/StageAll", h.stageAll)
	mux.HandleFunc("/UnstageAll", h.unstageAll)
	mux.HandleFunc("/GitPush", h.gitPush)
	mux.HandleFunc("/GitPull", h.gitPull)

	mux.HandleFunc("/ListComments", h.listComments)
	mux.HandleFunc("/AddComment", h.addComment)
	mux.HandleFunc("/UpdateComment", h.updateComment)
	mux.HandleFunc("/DeleteComment", h.deleteComment)

	mux.HandleFunc("/ListTodos", h.listTodos)
	mux.HandleFunc("/AddTodo", h.addTodo)
	mux.HandleFunc("/UpdateTodo", h.updateTodo)
	mux.HandleFunc("/DeleteTodo", h.deleteTodo)

	mux.HandleFunc("/AttachSession", h.attachSession)
	mux.HandleFunc("/SubscribeEvents", h.subscribeEvents)
}

// decode reads a JSON request body into v. A malformed body is the one
// place handlers synthesize their own InvalidArgument rather than
// forwarding one from the daemon.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeError(w, wireerr.New(wireerr.InvalidArgument, "malformed request body: %v", err))
		return false
	}
	return true
}

func (h *handlers) addRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decode(w, r, &req) {
		return
	}
	repo, err := h.d.AddRepo(req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, repo)
}

func (h *handlers) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.d.ListRepos()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, repos)
}

func (h *handlers) removeRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.RemoveRepo(req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) listWorktrees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	worktrees, err := h.d.ListWorktrees(req.RepoID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, worktrees)
}

func (h *handlers) createWorktree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID     string  `json:"repo_id"`
		Branch     string  `json:"branch"`
		BaseBranch *string `json:"base_branch,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	wt, err := h.d.CreateWorktree(req.RepoID, req.Branch, req.BaseBranch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, wt)
}

func (h *handlers) removeWorktree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
		Branch string `json:"branch"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.RemoveWorktree(req.RepoID, req.Branch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) deleteBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
		Branch string `json:"branch"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.DeleteBranch(req.RepoID, req.Branch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id,omitempty"`
		Branch string `json:"branch,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, h.d.ListSessions(req.RepoID, req.Branch))
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID   string `json:"repo_id"`
		Branch   string `json:"branch"`
		Name     string `json:"name,omitempty"`
		Prompt   string `json:"prompt,omitempty"`
		IsShell  bool   `json:"is_shell,omitempty"`
		OneShot  bool   `json:"one_shot,omitempty"`
		Model    string `json:"model,omitempty"`
		Provider string `json:"provider,omitempty"`
		Rows     uint16 `json:"rows,omitempty"`
		Cols     uint16 `json:"cols,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	info, err := h.d.CreateSession(daemon.CreateSessionParams{
		RepoID: req.RepoID, Branch: req.Branch, Name: req.Name, Prompt: req.Prompt,
		IsShell: req.IsShell, OneShot: req.OneShot, Model: req.Model, Provider: req.Provider,
		Rows: req.Rows, Cols: req.Cols,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info)
}

func (h *handlers) renameSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		NewName   string `json:"new_name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.RenameSession(req.SessionID, req.NewName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) destroySession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.DestroySession(req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) stopSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.StopSession(req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

type repoBranchReq struct {
	RepoID string `json:"repo_id"`
	Branch string `json:"branch"`
}

func (h *handlers) getGitStatus(w http.ResponseWriter, r *http.Request) {
	var req repoBranchReq
	if !decode(w, r, &req) {
		return
	}
	status, err := h.d.GetGitStatus(req.RepoID, req.Branch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status)
}

func (h *handlers) getDiffFiles(w http.ResponseWriter, r *http.Request) {
	var req repoBranchReq
	if !decode(w, r, &req) {
		return
	}
	files, err := h.d.GetDiffFiles(req.RepoID, req.Branch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, files)
}

func (h *handlers) getFileDiff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
		Branch string `json:"branch"`
		File   string `json:"file"`
	}
	if !decode(w, r, &req) {
		return
	}
	lines, err := h.d.GetFileDiff(req.RepoID, req.Branch, req.File)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, lines)
}

func (h *handlers) fileMutation(w http.ResponseWriter, r *http.Request, do func(repoID, branch, file string) error) {
	var req struct {
		RepoID string `json:"repo_id"`
		Branch string `json:"branch"`
		File   string `json:"file"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := do(req.RepoID, req.Branch, req.File); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) stageFile(w http.ResponseWriter, r *http.Request)   { h.fileMutation(w, r, h.d.StageFile) }
func (h *handlers) unstageFile(w http.ResponseWriter, r *http.Request) { h.fileMutation(w, r, h.d.UnstageFile) }

func (h *handlers) branchMutation(w http.ResponseWriter, r *http.Request, do func(repoID, branch string) error) {
	var req repoBranchReq
	if !decode(w, r, &req) {
		return
	}
	if err := do(req.RepoID, req.Branch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) stageAll(w http.ResponseWriter, r *http.Request)   { h.branchMutation(w, r, h.d.StageAll) }
func (h *handlers) unstageAll(w http.ResponseWriter, r *http.Request) { h.branchMutation(w, r, h.d.UnstageAll) }

func (h *handlers) gitPush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
		Branch string `json:"branch"`
		Remote string `json:"remote,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.GitPush(req.RepoID, req.Branch, req.Remote); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) gitPull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
		Branch string `json:"branch"`
		Remote string `json:"remote,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.GitPull(req.RepoID, req.Branch, req.Remote); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) listComments(w http.ResponseWriter, r *http.Request) {
	var req repoBranchReq
	if !decode(w, r, &req) {
		return
	}
	comments, err := h.d.ListComments(req.RepoID, req.Branch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, comments)
}

func (h *handlers) addComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID     string         `json:"repo_id"`
		Branch     string         `json:"branch"`
		FilePath   string         `json:"file_path"`
		LineNumber int            `json:"line_number"`
		LineType   store.LineType `json:"line_type"`
		Comment    string         `json:"comment"`
	}
	if !decode(w, r, &req) {
		return
	}
	c, err := h.d.AddComment(req.RepoID, req.Branch, req.FilePath, req.LineNumber, req.LineType, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, c)
}

func (h *handlers) updateComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID  string `json:"repo_id"`
		Branch  string `json:"branch"`
		ID      string `json:"id"`
		Comment string `json:"comment"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.UpdateComment(req.RepoID, req.Branch, req.ID, req.Comment); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) deleteComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
		Branch string `json:"branch"`
		ID     string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.DeleteComment(req.RepoID, req.Branch, req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) listTodos(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	todos, err := h.d.ListTodos(req.RepoID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, todos)
}

func (h *handlers) addTodo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID      string  `json:"repo_id"`
		Title       string  `json:"title"`
		Description string  `json:"description,omitempty"`
		ParentID    *string `json:"parent_id,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	todo, err := h.d.AddTodo(req.RepoID, req.Title, req.Description, req.ParentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, todo)
}

func (h *handlers) updateTodo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID      string `json:"repo_id"`
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		Completed   bool   `json:"completed"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.UpdateTodo(req.RepoID, req.ID, req.Title, req.Description, req.Completed); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (h *handlers) deleteTodo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID string `json:"repo_id"`
		ID     string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.DeleteTodo(req.RepoID, req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}
