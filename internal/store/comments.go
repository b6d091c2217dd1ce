package store

import (
	"time"

	"wtmux/internal/wireerr"
)

// LineType discriminates whether a comment anchors to the diff's old side,
// new side, or a context line common to both.
type LineType string

const (
	LineOld     LineType = "old"
	LineNew     LineType = "new"
	LineContext LineType = "context"
)

// Comment is a single line-anchored review comment.
type Comment struct {
	ID         string    `json:"id"`
	RepoID     string    `json:"repo_id"`
	Branch     string    `json:"branch"`
	FilePath   string    `json:"file_path"`
	LineNumber int       `json:"line_number"`
	LineType   LineType  `json:"line_type"`
	Text       string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type commentDocument struct {
	Comments []Comment `json:"comments"`
}

// ListComments returns every comment for a repo/branch, in insertion order.
func (s *Store) ListComments(repoID, branch string) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc commentDocument
	if _, err := readJSON(s.commentsPath(repoID, branch), &doc); err != nil {
		return nil, wireerr.Wrap(wireerr.Internal, err, "store: load comments %s/%s", repoID, branch)
	}
	return doc.Comments, nil
}

// AddComment appends c (caller assigns ID/CreatedAt/UpdatedAt) and persists
// the document.
func (s *Store) AddComment(c Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc commentDocument
	if _, err := readJSON(s.commentsPath(c.RepoID, c.Branch), &doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: load comments %s/%s", c.RepoID, c.Branch)
	}
	doc.Comments = append(doc.Comments, c)
	if err := writeJSON(s.commentsPath(c.RepoID, c.Branch), doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: save comments %s/%s", c.RepoID, c.Branch)
	}
	return nil
}

// UpdateComment replaces the comment with id's Text and bumps UpdatedAt.
// Returns NotFound if no such comment exists.
func (s *Store) UpdateComment(repoID, branch, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc commentDocument
	if _, err := readJSON(s.commentsPath(repoID, branch), &doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: load comments %s/%s", repoID, branch)
	}

	found := false
	for i := range doc.Comments {
		if doc.Comments[i].ID == id {
			doc.Comments[i].Text = text
			doc.Comments[i].UpdatedAt = time.Now()
			found = true
			break
		}
	}
	if !found {
		return wireerr.New(wireerr.NotFound, "store: comment %s not found", id)
	}

	if err := writeJSON(s.commentsPath(repoID, branch), doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: save comments %s/%s", repoID, branch)
	}
	return nil
}

// DeleteComment removes the comment with id. Deleting an id that does not
// exist is a no-op.
func (s *Store) DeleteComment(repoID, branch, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc commentDocument
	if _, err := readJSON(s.commentsPath(repoID, branch), &doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: load comments %s/%s", repoID, branch)
	}

	kept := doc.Comments[:0]
	for _, c := range doc.Comments {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	doc.Comments = kept

	if err := writeJSON(s.commentsPath(repoID, branch), doc); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: save comments %s/%s", repoID, branch)
	}
	return nil
}
