// Package store is the metadata store: audio file records and their
// transcript, translation and summary chain.
//
// The store is an explicit handle; callers open it once and pass it to the
// worker task set and the service layer. It runs on embedded SQLite by default
// and on Postgres when configured, with the same operations on both.
//
// Only the worker task set writes. Every operation runs in its own short
// transaction that is committed before the method returns.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sciber-ai/audiosync/internal/sqldb"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// DB is the metadata store handle.
type DB struct {
	conn   *sqldb.Conn
	dsn    string
	logger *log.Logger
	now    func() time.Time
}

// Open connects to the database described by opts and returns a store
// handle. The schema is not created; call InitSchema.
//
// Example:
//
//	st, err := store.Open(ctx, sqldb.Options{Dialect: sqldb.SQLite, Path: "data/audiosync.db"})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(ctx context.Context, opts sqldb.Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	conn, err := sqldb.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &DB{
		conn:   conn,
		dsn:    opts.DSN,
		logger: opts.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Conn returns the underlying connection.
func (db *DB) Conn() *sqldb.Conn {
	return db.conn
}

// Dialect returns the SQL dialect in use.
func (db *DB) Dialect() sqldb.Dialect {
	return db.conn.Dialect
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (db *DB) rebind(query string) string {
	return db.conn.Rebind(query)
}

func (db *DB) timeArg(t time.Time) any {
	return sqldb.TimeArg(db.conn.Dialect, t)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
