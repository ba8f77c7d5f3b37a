package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/sqldb"
)

const fileColumns = `id, user_id, filename, original_name, content_type, size,
	upload_time, whisper_model, status, storage_path, audio_duration_seconds`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*model.FileRecord, error) {
	var (
		rec        model.FileRecord
		uploadTime sqldb.Time
		tag        string
		status     string
	)
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Filename,
		&rec.OriginalName,
		&rec.ContentType,
		&rec.Size,
		&uploadTime,
		&tag,
		&status,
		&rec.StoragePath,
		&rec.DurationSecs,
	)
	if err != nil {
		return nil, err
	}
	rec.UploadTime = uploadTime.Time
	rec.ModelTag = model.ModelTag(tag)
	rec.Status = model.FileStatus(status)
	return &rec, nil
}

// AddFile records rec unless a record with the same (filename, model tag)
// already exists. It returns the record id and whether a row was created.
//
// A concurrent writer may insert the same key between the lookup and the
// insert. The resulting unique violation is resolved by rolling back and
// returning the id of the row that won.
func (db *DB) AddFile(ctx context.Context, rec *model.FileRecord) (int64, bool, error) {
	if err := rec.Validate(); err != nil {
		return 0, false, fmt.Errorf("invalid file record: %w", err)
	}

	existing, err := db.FindFile(ctx, rec.Key())
	switch {
	case err == nil:
		return existing.ID, false, nil
	case !errors.Is(err, ErrNotFound):
		return 0, false, err
	}

	tx, err := db.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := db.rebind(`
	INSERT INTO audio_files (
		user_id, filename, original_name, content_type, size,
		upload_time, whisper_model, status, storage_path, audio_duration_seconds
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id
	`)

	var id int64
	err = tx.QueryRowContext(ctx, query,
		rec.OwnerID,
		rec.Filename,
		rec.OriginalName,
		rec.ContentType,
		rec.Size,
		db.timeArg(rec.UploadTime),
		string(rec.ModelTag),
		string(rec.Status),
		rec.StoragePath,
		rec.DurationSecs,
	).Scan(&id)
	if err != nil {
		if !sqldb.IsUniqueViolation(err) {
			return 0, false, fmt.Errorf("failed to insert file record: %w", err)
		}

		_ = tx.Rollback()
		existing, ferr := db.FindFile(ctx, rec.Key())
		if ferr != nil {
			return 0, false, fmt.Errorf("failed to resolve concurrent insert of %s: %w", rec.Key(), ferr)
		}
		return existing.ID, false, nil
	}

	if err := tx.Commit(); err != nil {
		if sqldb.IsUniqueViolation(err) {
			existing, ferr := db.FindFile(ctx, rec.Key())
			if ferr != nil {
				return 0, false, fmt.Errorf("failed to resolve concurrent insert of %s: %w", rec.Key(), ferr)
			}
			return existing.ID, false, nil
		}
		return 0, false, fmt.Errorf("failed to commit file record: %w", err)
	}

	rec.ID = id
	return id, true, nil
}

// DeleteFile removes the record for key and, through the foreign keys, its
// transcript, translation and summary. It reports whether a record existed.
func (db *DB) DeleteFile(ctx context.Context, key model.FileKey) (bool, error) {
	tx, err := db.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := db.rebind(`DELETE FROM audio_files WHERE filename = ? AND whisper_model = ?`)
	result, err := tx.ExecContext(ctx, query, key.Filename, string(key.ModelTag))
	if err != nil {
		return false, fmt.Errorf("failed to delete file record %s: %w", key, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}

	return n > 0, nil
}

// GetFile returns the record with the given id.
func (db *DB) GetFile(ctx context.Context, id int64) (*model.FileRecord, error) {
	query := db.rebind(`SELECT ` + fileColumns + ` FROM audio_files WHERE id = ?`)
	rec, err := scanFile(db.conn.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %d: %w", id, err)
	}
	return rec, nil
}

// FindFile returns the record for key.
func (db *DB) FindFile(ctx context.Context, key model.FileKey) (*model.FileRecord, error) {
	query := db.rebind(`SELECT ` + fileColumns + ` FROM audio_files WHERE filename = ? AND whisper_model = ?`)
	rec, err := scanFile(db.conn.DB.QueryRowContext(ctx, query, key.Filename, string(key.ModelTag)))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file %s: %w", key, err)
	}
	return rec, nil
}

// ListOptions filters ListFiles. Zero values mean no filter.
type ListOptions struct {
	ModelTag model.ModelTag
	Status   model.FileStatus
	Since    time.Time
	Limit    int
	Offset   int
	// Newest orders by descending id instead of ascending.
	Newest bool
}

// ListFiles returns records matching opts.
func (db *DB) ListFiles(ctx context.Context, opts ListOptions) ([]*model.FileRecord, error) {
	var (
		where []string
		args  []any
	)
	if opts.ModelTag != "" {
		where = append(where, "whisper_model = ?")
		args = append(args, string(opts.ModelTag))
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		where = append(where, "upload_time >= ?")
		args = append(args, db.timeArg(opts.Since))
	}

	query := `SELECT ` + fileColumns + ` FROM audio_files`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if opts.Newest {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id"
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := db.conn.DB.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}

	return files, nil
}

// AdvanceStatus moves record id to status to. The update only applies when
// the current status is a legal predecessor, so concurrent writers can never
// move a record backwards. It returns ErrNotFound when the record is gone and
// model.ErrInvalidTransition when the current status does not allow it.
func (db *DB) AdvanceStatus(ctx context.Context, id int64, to model.FileStatus) error {
	from := to.Predecessors()
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", model.ErrInvalidTransition, to)
	}

	args := []any{string(to), id}
	for _, s := range from {
		args = append(args, string(s))
	}

	query := db.rebind(`UPDATE audio_files SET status = ? WHERE id = ? AND status IN (` + sqldb.Placeholders(len(from)) + `)`)
	result, err := db.conn.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update status of file %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := db.GetFile(ctx, id)
	if err != nil {
		return err
	}
	return model.CheckTransition(current.Status, to)
}

// SetContentType records the detected content type of file id.
func (db *DB) SetContentType(ctx context.Context, id int64, contentType string) error {
	query := db.rebind(`UPDATE audio_files SET content_type = ? WHERE id = ?`)
	result, err := db.conn.DB.ExecContext(ctx, query, contentType, id)
	if err != nil {
		return fmt.Errorf("failed to update content type of file %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetDuration records the audio duration of file id in seconds.
func (db *DB) SetDuration(ctx context.Context, id int64, seconds float64) error {
	query := db.rebind(`UPDATE audio_files SET audio_duration_seconds = ? WHERE id = ?`)
	result, err := db.conn.DB.ExecContext(ctx, query, seconds, id)
	if err != nil {
		return fmt.Errorf("failed to update duration of file %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	return nil
}

// Stats summarises the stored records.
type Stats struct {
	Total    int                      `json:"total" yaml:"total"`
	ByStatus map[model.FileStatus]int `json:"by_status" yaml:"by_status"`
	ByModel  map[model.ModelTag]int   `json:"by_model" yaml:"by_model"`
}

// GetStats counts records by status and by model tag.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus: make(map[model.FileStatus]int),
		ByModel:  make(map[model.ModelTag]int),
	}

	rows, err := db.conn.DB.QueryContext(ctx, `
	SELECT whisper_model, status, COUNT(*)
	FROM audio_files
	GROUP BY whisper_model, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tag, status string
			count       int
		)
		if err := rows.Scan(&tag, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		stats.Total += count
		stats.ByStatus[model.FileStatus(status)] += count
		stats.ByModel[model.ModelTag(tag)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counts: %w", err)
	}

	return stats, nil
}
