package daemon

import (
	"time"

	"github.com/google/uuid"

	"wtmux/internal/store"
)

// ListComments, AddComment, UpdateComment, DeleteComment are thin delegates
// to the store per spec.md §4.8's "validate input, call into C1-C7" policy —
// comments have no PTY/git/watcher interaction, so there is nothing to
// validate beyond what the store itself enforces.

func (d *Daemon) ListComments(repoID, branch string) ([]store.Comment, error) {
	return d.Store.ListComments(repoID, branch)
}

func (d *Daemon) AddComment(repoID, branch, filePath string, lineNumber int, lineType store.LineType, text string) (store.Comment, error) {
	now := time.Now()
	c := store.Comment{
		ID: uuid.NewString(), RepoID: repoID, Branch: branch,
		FilePath: filePath, LineNumber: lineNumber, LineType: lineType,
		Text: text, CreatedAt: now, UpdatedAt: now,
	}
	if err := d.Store.AddComment(c); err != nil {
		return store.Comment{}, err
	}
	return c, nil
}

func (d *Daemon) UpdateComment(repoID, branch, id, text string) error {
	return d.Store.UpdateComment(repoID, branch, id, text)
}

func (d *Daemon) DeleteComment(repoID, branch, id string) error {
	return d.Store.DeleteComment(repoID, branch, id)
}
