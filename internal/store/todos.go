package store

import (
	"time"

	"wtmux/internal/wireerr"
)

// Todo is a single forest node in a repo's TODO tree.
type Todo struct {
	ID          string    `json:"id"`
	RepoID      string    `json:"repo_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	ParentID    *string   `json:"parent_id,omitempty"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type todoDocument struct {
	Todos []Todo `json:"todos"`
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ListTodos returns every TODO item for repoID.
func (s *Store) ListTodos(repoID string) ([]Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc todoDocument
	if _, err := readJSON(s.todosPath(repoID), &doc); err != nil {
		return nil, wireerr.Wrap(wireerr.Internal, err, "store: load todos %s", repoID)
	}
	return doc.Todos, nil
}

// AddTodo appends t as the last sibling under t.ParentID, assigning Order
// densely (one past the current max sibling order).
func (s *Store) AddTodo(t Todo) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc todoDocument
	if _, err := readJSON(s.todosPath(t.RepoID), &doc); err != nil {
		return Todo{}, wireerr.Wrap(wireerr.Internal, err, "store: load todos %s", t.RepoID)
	}

	maxOrder := -1
	for _, existing := range doc.Todos {
		if sameParent(existing.ParentID, t.ParentID) && existing.Order > maxOrder {
			maxOrder = existing.Order
		}
	}
	t.Order = maxOrder + 1

	doc.Todos = append(doc.Todos, t)
	if err := writeJSON(s.todosPath(t.RepoID), doc); err != nil {
		return Todo{}, wireerr.Wrap(wireerr.Internal, err, "store: save todos %s", t.RepoID)
	}
	return t, nil
}

// UpdateTodo replaces the stored fields of the todo with id (title,
// description, completed) and bumps UpdatedAt. Order and ParentID are
// untouched; the store has no operation that reorders or moves a todo.
func (s *Store) UpdateTodo(repoID, id, title, description string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc todoDocument
	if _, err := readJSON(s.todosPath(repoID), &doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: load todos %s", repoID)
	}

	found := false
	for i := range doc.Todos {
		if doc.Todos[i].ID == id {
			doc.Todos[i].Title = title
			doc.Todos[i].Description = description
			doc.Todos[i].Completed = completed
			doc.Todos[i].UpdatedAt = time.Now()
			found = true
			break
		}
	}
	if !found {
		return wireerr.New(wireerr.NotFound, "store: todo %s not found", id)
	}

	if err := writeJSON(s.todosPath(repoID), doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: save todos %s", repoID)
	}
	return nil
}

// DeleteTodo removes the todo with id and re-denses the Order of its
// remaining siblings so the dense (0..k-1) invariant holds afterward.
// Children of a deleted parent are promoted to its own parent, keeping
// the forest well-formed rather than orphaning them.
func (s *Store) DeleteTodo(repoID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc todoDocument
	if _, err := readJSON(s.todosPath(repoID), &doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: load todos %s", repoID)
	}

	var target *Todo
	for i := range doc.Todos {
		if doc.Todos[i].ID == id {
			target = &doc.Todos[i]
			break
		}
	}
	if target == nil {
		return wireerr.New(wireerr.NotFound, "store: todo %s not found", id)
	}
	removedParent := target.ParentID

	kept := doc.Todos[:0]
	for _, t := range doc.Todos {
		if t.ID == id {
			continue
		}
		if sameParent(t.ParentID, &id) {
			t.ParentID = removedParent
		}
		kept = append(kept, t)
	}
	doc.Todos = densify(kept)

	if err := writeJSON(s.todosPath(repoID), doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: save todos %s", repoID)
	}
	return nil
}

// densify renumbers Order within each ParentID group to 0..k-1, preserving
// relative order, restoring the invariant after a deletion.
func densify(todos []Todo) []Todo {
	groups := make(map[string][]int) // parent key -> indices into todos, in current Order

	keyOf := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}

	for i := range todos {
		k := keyOf(todos[i].ParentID)
		groups[k] = append(groups[k], i)
	}

	for _, idxs := range groups {
		// stable-sort indices by current Order to preserve relative order
		for i := 1; i < len(idxs); i++ {
			j := i
			for j > 0 && todos[idxs[j-1]].Order > todos[idxs[j]].Order {
				idxs[j-1], idxs[j] = idxs[j], idxs[j-1]
				j--
			}
		}
		for n, idx := range idxs {
			todos[idx].Order = n
		}
	}
	return todos
}
