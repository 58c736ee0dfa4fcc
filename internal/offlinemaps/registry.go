// Package offlinemaps keeps the registry of offline map files: which map
// files exist in the offline maps folder and where downloaded maps came from.
package offlinemaps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/cryptox"
	"github.com/cgeo/cgeofiles/internal/dbx"
	"github.com/cgeo/cgeofiles/internal/filex"
	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/logging"
	"github.com/cgeo/cgeofiles/internal/models"
	"github.com/cgeo/cgeofiles/internal/repositories/maps"
	"github.com/cgeo/cgeofiles/internal/storage"
)

// Extension of offline map files.
const Extension = ".map"

// Storage is the part of storage.Manager the registry needs.
type Storage interface {
	List(ctx context.Context, id folders.ID) ([]storage.Entry, folders.Location, error)
	Open(ctx context.Context, ref storage.Ref) (io.ReadCloser, error)
	Exists(ctx context.Context, ref storage.Ref) (bool, error)
}

type Registry struct {
	db      *sql.DB
	repo    maps.Repository
	storage Storage
	log     logging.Logger
	now     func() time.Time

	// serializes rescans
	mu sync.Mutex
}

func NewRegistry(db *sql.DB, storage Storage, log logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		db:      db,
		repo:    maps.NewSQLiteRepository(db),
		storage: storage,
		log:     log,
		now:     time.Now,
	}
}

// NotifyNewMapFile indexes a freshly received map file and drops the rows of
// its folder whose files are gone, e.g. the received source itself when it
// was handed over from inside the offline maps folder.
func (r *Registry) NotifyNewMapFile(ctx context.Context, ref storage.Ref, size int64, digest string) error {
	m := &models.Map{
		URI:     ref.String(),
		Folder:  ref.Location.String(),
		Name:    ref.Name,
		Size:    size,
		Digest:  digest,
		AddedAt: r.now(),
	}
	if err := r.repo.Upsert(ctx, m); err != nil {
		return err
	}
	r.log.Info(ctx, "offline map registered", "uri", m.URI, "size", size)

	return r.pruneMissing(ctx, ref.Location)
}

// pruneMissing removes the rows of loc whose files no longer exist.
func (r *Registry) pruneMissing(ctx context.Context, loc folders.Location) error {
	rows, err := r.repo.List(ctx, loc.String())
	if err != nil {
		return err
	}
	for _, m := range rows {
		ok, err := r.storage.Exists(ctx, storage.Ref{Location: loc, Name: m.Name})
		if err != nil {
			r.log.Warn(ctx, "checking indexed map file failed", "uri", m.URI, "err", err)
			continue
		}
		if ok {
			continue
		}
		if err := r.repo.DeleteByURI(ctx, m.URI); err != nil {
			return err
		}
		r.log.Info(ctx, "offline map unregistered", "uri", m.URI)
	}
	return nil
}

// WriteInfo records where filename was downloaded from. An empty
// displayName is derived from the file name.
func (r *Registry) WriteInfo(ctx context.Context, url, filename, displayName string, date time.Time) error {
	if displayName == "" {
		base, _ := filex.SplitExt(filename)
		displayName = DisplayName(base)
	}
	return r.repo.UpsertSource(ctx, &models.MapSource{
		Filename:    filename,
		URL:         url,
		DisplayName: displayName,
		Date:        date,
	})
}

// List returns every indexed map.
func (r *Registry) List(ctx context.Context) ([]*models.Map, error) {
	return r.repo.List(ctx, "")
}

// Source returns the provenance of filename, or common.ErrorNotFound.
func (r *Registry) Source(ctx context.Context, filename string) (*models.MapSource, error) {
	return r.repo.GetSource(ctx, filename)
}

type RescanResult struct {
	Location folders.Location
	Found    int
	Removed  int64
}

// Rescan re-indexes the active offline maps folder. Known files of unchanged
// size keep their digest, new or resized files are digested again and rows of
// files that disappeared are pruned.
func (r *Registry) Rescan(ctx context.Context) (RescanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, loc, err := r.storage.List(ctx, folders.OfflineMaps)
	if err != nil {
		return RescanResult{}, fmt.Errorf("list offline maps: %w", err)
	}

	res := RescanResult{Location: loc}
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := maps.NewSQLiteRepository(tx)

		var keep []string
		for _, e := range entries {
			if !strings.EqualFold(fileExt(e.Ref.Name), Extension) {
				continue
			}
			uri := e.Ref.String()
			keep = append(keep, uri)
			res.Found++

			existing, err := repo.GetByURI(ctx, uri)
			if err == nil && existing.Size == e.Size {
				continue
			}
			if err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			if existing != nil {
				if err := repo.DeleteByURI(ctx, uri); err != nil {
					return err
				}
			}

			added := e.ModTime
			if added.IsZero() {
				added = r.now()
			}
			if err := repo.Upsert(ctx, &models.Map{
				URI:     uri,
				Folder:  loc.String(),
				Name:    e.Ref.Name,
				Size:    e.Size,
				Digest:  r.digest(ctx, e.Ref),
				AddedAt: added,
			}); err != nil {
				return err
			}
		}

		n, err := repo.PruneFolder(ctx, loc.String(), keep)
		res.Removed = n
		return err
	})
	if err != nil {
		return RescanResult{}, fmt.Errorf("rescan %s: %w", loc, err)
	}

	r.log.Info(ctx, "offline maps rescanned", "location", loc.String(), "found", res.Found, "removed", res.Removed)
	return res, nil
}

// digest returns "" when ref cannot be read; the row is still indexed.
func (r *Registry) digest(ctx context.Context, ref storage.Ref) string {
	rc, err := r.storage.Open(ctx, ref)
	if err != nil {
		r.log.Warn(ctx, "open map file for digest failed", "uri", ref.String(), "err", err)
		return ""
	}
	defer rc.Close()

	d, _, err := cryptox.Digest(rc)
	if err != nil {
		r.log.Warn(ctx, "digest map file failed", "uri", ref.String(), "err", err)
		return ""
	}
	return d
}

// Watch rescans whenever the offline maps folder changes until Close.
func (r *Registry) Watch(ctx context.Context, resolver *folders.Resolver) {
	resolver.Subscribe(r, folders.OfflineMaps, func(folders.ID) {
		if _, err := r.Rescan(ctx); err != nil {
			r.log.Warn(ctx, "rescan after folder change failed", "err", err)
		}
	})
}

// Close drops the folder subscriptions made by Watch.
func (r *Registry) Close(resolver *folders.Resolver) {
	resolver.Release(r)
}

// DisplayName turns a map file info into a readable name:
// "germany_berlin-2024" becomes "Germany Berlin 2024".
func DisplayName(fileinfo string) string {
	words := strings.FieldsFunc(fileinfo, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	return cases.Title(language.Und).String(strings.Join(words, " "))
}

func fileExt(name string) string {
	_, ext := filex.SplitExt(name)
	return ext
}
