// Package app wires the cgeofiles components together: the settings
// database, storage backends, the folder resolver, the offline map
// registry and the file receiver. It also runs the long-lived "serve" mode
// with the HTTP control surface and the inbox watcher.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cgeo/cgeofiles/internal/config"
	"github.com/cgeo/cgeofiles/internal/database"
	"github.com/cgeo/cgeofiles/internal/filex"
	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/httpapi"
	"github.com/cgeo/cgeofiles/internal/i18n"
	"github.com/cgeo/cgeofiles/internal/images"
	"github.com/cgeo/cgeofiles/internal/inbox"
	"github.com/cgeo/cgeofiles/internal/logging"
	"github.com/cgeo/cgeofiles/internal/offlinemaps"
	"github.com/cgeo/cgeofiles/internal/receiver"
	"github.com/cgeo/cgeofiles/internal/settings"
	"github.com/cgeo/cgeofiles/internal/source"
	"github.com/cgeo/cgeofiles/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// newS3Client is swapped in tests.
var newS3Client = func(ctx context.Context, c storage.S3Config) (storage.S3API, error) {
	return storage.NewS3Client(ctx, c)
}

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	Catalog  i18n.Catalog
	Resolver *folders.Resolver
	Storage  *storage.Manager
	Source   *source.Opener
	Maps     *offlinemaps.Registry
	Receiver *receiver.Receiver
}

// NewLogger selects the logger for format: "json" and "text" use slog,
// "console" a human-friendly zerolog writer.
func NewLogger(w io.Writer, level, format string) logging.Logger {
	switch strings.ToLower(format) {
	case "json":
		return logging.NewJSONLogger(w, level)
	case "console":
		return logging.NewConsoleLogger(w, level)
	default:
		return logging.NewTextLogger(w, level)
	}
}

// NewApp opens the database and builds every component. Close releases them.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	if strings.HasPrefix(c.DatabaseDSN, "file:") && !strings.Contains(c.DatabaseDSN, ":memory:") {
		dbPath, _, _ := strings.Cut(strings.TrimPrefix(c.DatabaseDSN, "file:"), "?")
		if _, err := filex.EnsureDir(filepath.Dir(dbPath)); err != nil {
			return nil, fmt.Errorf("db dir: %w", err)
		}
	}

	db, err := database.Open(ctx, c.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := build(ctx, c, logger, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, c *config.Config, logger logging.Logger, db *sql.DB) (*App, error) {
	backends := storage.Backends{folders.KindFile: storage.NewLocalBackend()}
	if c.S3.Enabled() {
		client, err := newS3Client(ctx, storage.S3Config{
			Region:       c.S3.Region,
			BaseEndpoint: c.S3.Endpoint,
			AccessKey:    c.S3.AccessKey,
			SecretKey:    c.S3.SecretKey,
			UsePathStyle: c.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		backends[folders.KindS3] = storage.NewS3Backend(client, c.S3.TmpDir)
	}

	roots, err := rootsOf(c)
	if err != nil {
		return nil, err
	}

	repos := database.NewRepositories(db)
	catalog := i18n.English

	resolver, err := folders.NewResolver(ctx, roots, settings.NewStore(repos.Metadata), backends,
		folders.WithLogger(logger.With("component", "folders")),
		folders.WithLabels(catalog),
	)
	if err != nil {
		return nil, fmt.Errorf("folder resolver: %w", err)
	}

	manager := storage.NewManager(resolver, backends, logger.With("component", "storage"))
	registry := offlinemaps.NewRegistry(db, manager, logger.With("component", "maps"))
	registry.Watch(ctx, resolver)

	opener := source.NewOpener(source.WithBackends(backends))
	rcv := receiver.New(manager, opener, registry,
		receiver.WithLogger(logger.With("component", "receiver")),
		receiver.WithCatalog(catalog),
		receiver.WithFolderNames(resolver),
	)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		Catalog:  catalog,
		Resolver: resolver,
		Storage:  manager,
		Source:   opener,
		Maps:     registry,
		Receiver: rcv,
	}, nil
}

// rootsOf turns the configured roots into absolute locations. An empty root
// stays unavailable.
func rootsOf(c *config.Config) (folders.Roots, error) {
	var roots folders.Roots
	for _, r := range []struct {
		dst *folders.Location
		dir string
	}{
		{&roots.LegacyPublic, c.LegacyPublic},
		{&roots.Documents, c.Documents},
		{&roots.Private, c.Private},
	} {
		if r.dir == "" {
			continue
		}
		abs, err := filepath.Abs(r.dir)
		if err != nil {
			return folders.Roots{}, fmt.Errorf("root %q: %w", r.dir, err)
		}
		*r.dst = folders.FileLocation(abs)
	}
	return roots, nil
}

func (app *App) Logger() logging.Logger {
	return app.logger
}

// Images returns an image helper reading through the app's source opener and
// writing copies into the IMAGES folder.
func (app *App) Images(launcher images.Launcher, notifier images.Notifier, requestCodeStart int) *images.Helper {
	return images.NewHelper(launcher, notifier, app.Source, app.Storage, requestCodeStart,
		images.WithLogger(app.logger.With("component", "images")),
		images.WithCatalog(app.Catalog),
	)
}

func (app *App) Close() error {
	app.Maps.Close(app.Resolver)
	return app.db.Close()
}

// Serve runs the HTTP control surface and, when configured, the inbox
// watcher until ctx is cancelled or one of them fails.
func (app *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           httpapi.New(ctx, app.Receiver, app.Storage, app.Maps, app.logger.With("component", "http")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		app.logger.Info(ctx, "http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if app.config.InboxDir != "" {
		w := app.Inbox()
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	return g.Wait()
}

// Inbox builds the watcher over the configured inbox directory. Files that
// already live in the offline maps folder are skipped, so an inbox pointed at
// that folder does not receive its own output.
func (app *App) Inbox() *inbox.Watcher {
	log := app.logger.With("component", "inbox")
	return inbox.New(app.config.InboxDir, app.config.InboxSettle, app.Receiver,
		inbox.WithLogger(log),
		inbox.WithSkip(app.inMapsFolder),
		inbox.WithResultFunc(func(req receiver.Request, res receiver.Result) {
			log.Info(context.Background(), "inbox file processed",
				"source", req.Source, "state", res.State, "message", res.Message(app.Catalog))
		}),
	)
}

func (app *App) inMapsFolder(path string) bool {
	loc, ok := app.Resolver.Location(context.Background(), folders.OfflineMaps)
	if !ok || loc.Kind != folders.KindFile {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == loc.Root
}
