// Package sqlite is the SQLite storage adapter: schema migrations, the user
// data exporter and deleter, consent records and the hash-chained audit log.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"lexvault/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is the UTC text form of every timestamp the store writes. It
// sorts lexically and compares cleanly with CURRENT_TIMESTAMP defaults.
const timeLayout = "2006-01-02 15:04:05.000"

// Store owns the SQLite handle shared by every repository in this package.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Options tune Open.
type Options struct {
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// Open opens (or creates) the database at path with foreign keys enforced.
// It does not migrate; call Migrate.
func Open(path string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10)+")")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	// BEGIN IMMEDIATE: a read-then-write transaction takes the write lock up
	// front and waits out busy_timeout, instead of failing with
	// SQLITE_BUSY_SNAPSHOT when another process commits between its read and
	// its write.
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStorage, path, err)
	}
	// Single writer; also keeps every pragma on the one live connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", domain.ErrStorage, path, err)
	}
	return &Store{db: db, logger: opts.Logger}, nil
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("%w: migrate: %v", domain.ErrStorage, err)
	}
	s.logger.Debug("schema migrated", "version", s.SchemaVersion(ctx))
	return nil
}

// SchemaVersion returns the applied migration version, or "0" when the
// database was never migrated.
func (s *Store) SchemaVersion(ctx context.Context) string {
	return schemaVersion(ctx, s.db)
}

func schemaVersion(ctx context.Context, q dbtx) string {
	var v int64
	err := q.QueryRowContext(ctx,
		`SELECT version_id FROM goose_db_version WHERE is_applied = 1 ORDER BY id DESC LIMIT 1`,
	).Scan(&v)
	if err != nil {
		return "0"
	}
	return strconv.FormatInt(v, 10)
}

// UserExists reports whether a users row with id exists.
func (s *Store) UserExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: lookup user %d: %w", domain.ErrStorage, id, err)
	}
	return true, nil
}

// DB exposes the handle for seeding and administrative tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.DateTime, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
