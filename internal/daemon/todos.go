package daemon

import (
	"time"

	"github.com/google/uuid"

	"wtmux/internal/store"
)

func (d *Daemon) ListTodos(repoID string) ([]store.Todo, error) {
	return d.Store.ListTodos(repoID)
}

func (d *Daemon) AddTodo(repoID, title, description string, parentID *string) (store.Todo, error) {
	now := time.Now()
	return d.Store.AddTodo(store.Todo{
		ID: uuid.NewString(), RepoID: repoID, Title: title, Description: description,
		ParentID: parentID, CreatedAt: now, UpdatedAt: now,
	})
}

func (d *Daemon) UpdateTodo(repoID, id, title, description string, completed bool) error {
	return d.Store.UpdateTodo(repoID, id, title, description, completed)
}

func (d *Daemon) DeleteTodo(repoID, id string) error {
	return d.Store.DeleteTodo(repoID, id)
}
