// Package settings is the persisted preference store. It implements
// folders.Settings on top of the metadata repository.
package settings

import (
	"context"

	"github.com/cgeo/cgeofiles/internal/repositories/metadata"
)

const folderPrefix = "persistablefolder."

type Store struct {
	repo metadata.Repository
}

func NewStore(repo metadata.Repository) *Store {
	return &Store{repo: repo}
}

// FolderLocation returns the stored location string of a folder preference,
// or "" when none is stored.
func (s *Store) FolderLocation(ctx context.Context, prefKey string) (string, error) {
	v, _, err := s.repo.Get(ctx, folderPrefix+prefKey)
	return v, err
}

// SetFolderLocation stores value; an empty value removes the preference.
func (s *Store) SetFolderLocation(ctx context.Context, prefKey, value string) error {
	if value == "" {
		return s.repo.Delete(ctx, folderPrefix+prefKey)
	}
	return s.repo.Set(ctx, folderPrefix+prefKey, value)
}

// FolderLocations returns all stored folder preferences keyed by preference key.
func (s *Store) FolderLocations(ctx context.Context) (map[string]string, error) {
	all, err := s.repo.List(ctx, folderPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		out[k[len(folderPrefix):]] = v
	}
	return out, nil
}
