// Package maps is the persistence layer of the offline map registry: the
// indexed map files and the provenance of downloaded maps.
package maps

import (
	"context"

	"github.com/cgeo/cgeofiles/internal/models"
)

type Repository interface {
	// Upsert inserts or replaces the map with the same URI.
	Upsert(ctx context.Context, m *models.Map) error

	// GetByURI returns common.ErrorNotFound when the URI is unknown.
	GetByURI(ctx context.Context, uri string) (*models.Map, error)

	// List returns all maps ordered by name; folder "" means every folder.
	List(ctx context.Context, folder string) ([]*models.Map, error)

	DeleteByURI(ctx context.Context, uri string) error

	// PruneFolder deletes the maps of folder whose URI is not in keep and
	// returns how many rows went away.
	PruneFolder(ctx context.Context, folder string, keep []string) (int64, error)

	UpsertSource(ctx context.Context, s *models.MapSource) error

	// GetSource returns common.ErrorNotFound when filename has no provenance.
	GetSource(ctx context.Context, filename string) (*models.MapSource, error)
}
