package store

import (
	"context"
	"fmt"

	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/sqldb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	is_admin INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audio_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	filename TEXT NOT NULL,
	original_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size INTEGER NOT NULL,
	upload_time TIMESTAMP NOT NULL,
	whisper_model TEXT NOT NULL DEFAULT 'base'
		CHECK (whisper_model IN ('base', 'small', 'medium', 'large')),
	status TEXT NOT NULL DEFAULT 'uploaded'
		CHECK (status IN ('uploaded', 'processing', 'done', 'failed')),
	storage_path TEXT NOT NULL,
	audio_duration_seconds REAL NOT NULL DEFAULT 0,
	UNIQUE (filename, whisper_model)
);

CREATE TABLE IF NOT EXISTS transcripts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	audio_file_id INTEGER NOT NULL UNIQUE REFERENCES audio_files(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'processing'
		CHECK (status IN ('processing', 'done', 'failed')),
	text TEXT,
	processing_seconds REAL,
	text_chars INTEGER,
	real_time_factor REAL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS translations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript_id INTEGER NOT NULL UNIQUE REFERENCES transcripts(id) ON DELETE CASCADE,
	source_language TEXT NOT NULL,
	text_en TEXT,
	text_ru TEXT,
	status TEXT NOT NULL DEFAULT 'processing'
		CHECK (status IN ('processing', 'done', 'failed')),
	processing_seconds REAL,
	text_chars INTEGER,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	translation_id INTEGER NOT NULL UNIQUE REFERENCES translations(id) ON DELETE CASCADE,
	base_language TEXT NOT NULL,
	target_language TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'processing'
		CHECK (status IN ('processing', 'done', 'failed')),
	text TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audio_files_status ON audio_files(status);
CREATE INDEX IF NOT EXISTS idx_audio_files_model ON audio_files(whisper_model);
CREATE INDEX IF NOT EXISTS idx_audio_files_upload_time ON audio_files(upload_time);
`

// InitSchema creates the schema if it doesn't exist and seeds the default
// owner. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support. SQLite tables
// are created inline; Postgres is migrated with the embedded migrations.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	switch db.conn.Dialect {
	case sqldb.Postgres:
		if err := Migrate(db.dsn, db.logger); err != nil {
			return err
		}
	default:
		if _, err := db.conn.DB.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return db.seedDefaultOwner(ctx)
}

func (db *DB) seedDefaultOwner(ctx context.Context) error {
	query := db.rebind(`
	INSERT INTO users (id, name, is_admin, created_at)
	VALUES (?, 'admin', ?, ?)
	ON CONFLICT DO NOTHING
	`)
	if _, err := db.conn.DB.ExecContext(ctx, query, model.DefaultOwnerID, true, db.timeArg(db.now())); err != nil {
		return fmt.Errorf("failed to seed default owner: %w", err)
	}
	return nil
}
