// Package sqldb opens database/sql connections for the two supported
// dialects and hides the differences the store and the queue care about:
// placeholder syntax, time encoding and unique-constraint errors.
//
// SQLite runs embedded through ncruces/go-sqlite3 with WAL, a busy timeout
// and foreign keys applied to every pooled connection. Postgres goes through
// the pgx stdlib driver.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the driver names used in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "sqlite", "sqlite3", "":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// Options configures Open.
type Options struct {
	Dialect Dialect

	// Path is the database file for SQLite.
	Path string

	// DSN is the connection string for Postgres.
	DSN string

	// MaxOpenConns caps the pool (default 25).
	MaxOpenConns int

	// ConnectAttempts is how many pings are tried before giving up
	// (default 5). SQLite opens are not retried.
	ConnectAttempts uint

	// ConnectDelay is the delay between ping attempts (default 1s).
	ConnectDelay time.Duration

	Logger *log.Logger
}

// Conn is an open database with its dialect.
type Conn struct {
	DB      *sql.DB
	Dialect Dialect
	Path    string
	logger  *log.Logger
}

// Open connects according to opts and verifies the connection.
func Open(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[db] ", log.LstdFlags)
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = 5
	}
	if opts.ConnectDelay <= 0 {
		opts.ConnectDelay = time.Second
	}

	switch opts.Dialect {
	case SQLite, "":
		return openSQLite(ctx, opts)
	case Postgres:
		return openPostgres(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", opts.Dialect)
	}
}

// SQLiteDSN builds the ncruces DSN for path. Pragmas are part of the DSN so
// that every connection in the pool gets them, not just the first one.
func SQLiteDSN(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(wal)" +
		"&_txlock=immediate"
}

func openSQLite(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite database path cannot be empty")
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", SQLiteDSN(opts.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Conn{DB: db, Dialect: SQLite, Path: opts.Path, logger: opts.Logger}, nil
}

func openPostgres(ctx context.Context, opts Options) (*Conn, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres DSN cannot be empty")
	}

	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.PingContext(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(opts.ConnectAttempts),
		retry.Delay(opts.ConnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			opts.Logger.Printf("Database not ready (attempt %d/%d): %v", n+1, opts.ConnectAttempts, err)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Conn{DB: db, Dialect: Postgres, logger: opts.Logger}, nil
}

// Close closes the pool. SQLite databases are checkpointed first.
func (c *Conn) Close() error {
	if c.DB == nil {
		return nil
	}

	if c.Dialect == SQLite {
		if _, err := c.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			c.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
		}
	}

	if err := c.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.DB = nil
	return nil
}

// Rebind rewrites '?' placeholders as $1, $2, ... for Postgres. Queries must
// not contain literal question marks.
func (c *Conn) Rebind(query string) string {
	return Rebind(c.Dialect, query)
}

// Rebind rewrites '?' placeholders for dialect d.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Placeholders returns n comma-separated '?' markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// IsUniqueViolation reports whether err was raised by a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode() == sqlite3.CONSTRAINT_UNIQUE ||
			sqliteErr.ExtendedCode() == sqlite3.CONSTRAINT_PRIMARYKEY
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return false
}
