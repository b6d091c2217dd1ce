package store

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"wtmux/internal/wireerr"
)

// Repo is the persisted repository registry entry.
type Repo struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Name string `json:"name"`
}

type repoRegistry struct {
	Repos []Repo `json:"repos"`
}

// DeriveRepoID returns the stable repo_id for a canonical main-repo path: a
// SHA256 hash of the path, truncated the same way the daemon's predecessor
// derived its hub identifier, so the same repo always gets the same id
// across restarts.
func DeriveRepoID(canonicalPath string) string {
	hash := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(hash[:16])
}

// LoadRepos returns the persisted repo registry, in insertion order.
func (s *Store) LoadRepos() ([]Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reg repoRegistry
	if _, err := readJSON(s.reposPath(), &reg); err != nil {
		return nil, wireerr.Wrap(wireerr.Internal, err, "store: load repos")
	}
	return reg.Repos, nil
}

// AddRepo inserts a repo keyed by canonicalPath's derived id. Re-adding a
// path that derives the same id is idempotent: the existing entry is
// returned unchanged rather than duplicated.
func (s *Store) AddRepo(canonicalPath, name string) (Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reg repoRegistry
	if _, err := readJSON(s.reposPath(), &reg); err != nil {
		return Repo{}, wireerr.Wrap(wireerr.Internal, err, "store: load repos")
	}

	id := DeriveRepoID(canonicalPath)
	for _, r := range reg.Repos {
		if r.ID == id {
			return r, nil
		}
	}

	if name == "" {
		name = filepath.Base(canonicalPath)
	}
	repo := Repo{ID: id, Path: canonicalPath, Name: name}
	reg.Repos = append(reg.Repos, repo)

	if err := writeJSON(s.reposPath(), reg); err != nil {
		return Repo{}, wireerr.Wrap(wireerr.Internal, err, "store: save repos")
	}
	return repo, nil
}

// RemoveRepo deletes the repo registry entry for id. Deleting an id that
// does not exist is a no-op.
func (s *Store) RemoveRepo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reg repoRegistry
	if _, err := readJSON(s.reposPath(), &reg); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: load repos")
	}

	kept := reg.Repos[:0]
	for _, r := range reg.Repos {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	reg.Repos = kept

	if err := writeJSON(s.reposPath(), reg); err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "store: save repos")
	}
	return nil
}

// GetRepo looks up a single repo by id.
func (s *Store) GetRepo(id string) (Repo, bool, error) {
	repos, err := s.LoadRepos()
	if err != nil {
		return Repo{}, false, err
	}
	for _, r := range repos {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Repo{}, false, nil
}
