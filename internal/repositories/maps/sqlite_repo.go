package maps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/dbx"
	"github.com/cgeo/cgeofiles/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, m *models.Map) error {

	query := `INSERT INTO maps (uri, folder, name, size, digest, added_at)
			values (?, ?, ?, ?, ?, ?)
			ON CONFLICT(uri) DO UPDATE SET folder = excluded.folder,
				name = excluded.name,
				size = excluded.size,
				digest = CASE WHEN excluded.digest = '' THEN maps.digest ELSE excluded.digest END,
				added_at = excluded.added_at
	`
	_, err := r.db.ExecContext(ctx, query, m.URI, m.Folder, m.Name, m.Size, m.Digest, m.AddedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert map: %w", err)
	}

	return nil
}

func (r *SQLiteRepository) GetByURI(ctx context.Context, uri string) (*models.Map, error) {

	query := `select uri, folder, name, size, digest, added_at from maps where uri=?`
	row := r.db.QueryRowContext(ctx, query, uri)

	m, err := scanMap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get map: %w", err)
	}

	return m, nil
}

func (r *SQLiteRepository) List(ctx context.Context, folder string) ([]*models.Map, error) {

	query := `select uri, folder, name, size, digest, added_at from maps where ? = '' or folder = ? order by name, uri`
	rows, err := r.db.QueryContext(ctx, query, folder, folder)
	if err != nil {
		return nil, fmt.Errorf("error selecting maps: %w", err)
	}
	defer rows.Close()

	var result []*models.Map

	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *SQLiteRepository) DeleteByURI(ctx context.Context, uri string) error {
	if _, err := r.db.ExecContext(ctx, `delete from maps where uri=?`, uri); err != nil {
		return fmt.Errorf("failed to delete map: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PruneFolder(ctx context.Context, folder string, keep []string) (int64, error) {

	current, err := r.List(ctx, folder)
	if err != nil {
		return 0, err
	}

	wanted := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		wanted[k] = struct{}{}
	}

	var removed int64
	for _, m := range current {
		if _, ok := wanted[m.URI]; ok {
			continue
		}
		result, err := r.db.ExecContext(ctx, `delete from maps where uri=?`, m.URI)
		if err != nil {
			return removed, fmt.Errorf("failed to prune map: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("failed to get rows affected: %w", err)
		}
		removed += n
	}

	return removed, nil
}

func (r *SQLiteRepository) UpsertSource(ctx context.Context, s *models.MapSource) error {

	query := `INSERT INTO map_sources (filename, url, display_name, source_date)
			values (?, ?, ?, ?)
			ON CONFLICT(filename) DO UPDATE SET url = excluded.url,
				display_name = excluded.display_name,
				source_date = excluded.source_date
	`
	_, err := r.db.ExecContext(ctx, query, s.Filename, s.URL, s.DisplayName, s.Date.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert map source: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSource(ctx context.Context, filename string) (*models.MapSource, error) {

	query := `select filename, url, display_name, source_date from map_sources where filename=?`

	s := &models.MapSource{}
	var date int64
	err := r.db.QueryRowContext(ctx, query, filename).Scan(&s.Filename, &s.URL, &s.DisplayName, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get map source: %w", err)
	}
	s.Date = time.Unix(date, 0)

	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMap(s scanner) (*models.Map, error) {
	m := &models.Map{}
	var addedAt int64
	if err := s.Scan(&m.URI, &m.Folder, &m.Name, &m.Size, &m.Digest, &addedAt); err != nil {
		return nil, err
	}
	m.AddedAt = time.Unix(addedAt, 0)
	return m, nil
}
