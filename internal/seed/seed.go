// Package seed runs SQL seed scripts against PostgreSQL.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultScript is the seed script used when none is given
const DefaultScript = "./Seeds/hamam.sql"

// ErrScriptNotFound is returned when the seed script does not exist
var ErrScriptNotFound = errors.New("script file not found")

// Execer executes SQL. *pgxpool.Pool implements it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Runner executes whole scripts as a single statement batch
type Runner struct {
	db  Execer
	log logr.Logger
}

// NewRunner creates a Runner on db
func NewRunner(db Execer, log logr.Logger) *Runner {
	return &Runner{db: db, log: log.WithName("seed")}
}

// Connect opens a pool for databaseURL and checks that it is reachable.
// The caller closes the pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is required (set --database-url or DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// RunScript reads path and executes its whole content. Without arguments
// pgx uses the simple protocol, so a script may hold several statements.
func (r *Runner) RunScript(ctx context.Context, path string) error {
	script, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	r.log.Info("Running seed script", "path", path, "bytes", len(script))
	tag, err := r.db.Exec(ctx, string(script))
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", path, err)
	}
	r.log.Info("Script executed successfully", "path", path, "result", tag.String())
	return nil
}
