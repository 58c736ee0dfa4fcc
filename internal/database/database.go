// Package database opens the local SQLite database and applies the embedded
// goose migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cgeo/cgeofiles/internal/logging"
	"github.com/cgeo/cgeofiles/internal/migrations"
	"github.com/cgeo/cgeofiles/internal/repositories/maps"
	"github.com/cgeo/cgeofiles/internal/repositories/metadata"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

type Repositories struct {
	Metadata metadata.Repository
	Maps     maps.Repository
}

func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Metadata: metadata.NewSQLiteRepository(db),
		Maps:     maps.NewSQLiteRepository(db),
	}
}

// gooseLogger routes goose output through a logging.Logger at debug level.
type gooseLogger struct {
	log logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	g.log.Error(context.Background(), msg)
	panic(msg)
}

// RunMigrations applies the embedded migrations. log may be nil.
func RunMigrations(ctx context.Context, db *sql.DB, log logging.Logger) error {
	if log == nil {
		log = logging.Nop()
	}
	goose.SetLogger(gooseLogger{log: log.With("component", "migrations")})
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens dsn with the pure-Go sqlite driver and migrates it. In-memory
// databases are pinned to one connection so every query sees the same data.
func Open(ctx context.Context, dsn string, log logging.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := RunMigrations(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
