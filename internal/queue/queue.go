// Package queue is a durable, at-least-once work queue backed by a SQL table.
//
// Producers Submit named jobs with scalar arguments. Workers Claim the oldest
// due job, run it and then Complete, Fail or RetryAt it under their worker
// id. A job whose worker dies while holding it is returned to the queue by
// RecoverStale, so a job may run more than once; handlers must be idempotent
// and can tell a repeat delivery with Redelivered.
//
// The jobs table usually shares a connection with the metadata store.
// Producers only ever write to the jobs table.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sciber-ai/audiosync/internal/sqldb"
)

// ErrNoJob is returned by Claim when no job is due.
var ErrNoJob = errors.New("no job available")

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// ErrLockLost is returned when a worker settles a job it no longer holds,
// typically because the job was recovered as stale and claimed again.
var ErrLockLost = errors.New("job no longer held by this worker")

// Status is the state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Job is a queued unit of work.
type Job struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Args        Args      `json:"args" yaml:"args"`
	Status      Status    `json:"status" yaml:"status"`
	Attempts    int       `json:"attempts" yaml:"attempts"`
	MaxAttempts int       `json:"max_attempts" yaml:"max_attempts"`
	RunAt       time.Time `json:"run_at" yaml:"run_at"`
	LockedBy    string    `json:"locked_by,omitempty" yaml:"locked_by,omitempty"`
	LastError   string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Submitter accepts jobs. The reconciler and the task set depend on this
// rather than on *Queue.
type Submitter interface {
	Submit(ctx context.Context, name string, args Args, opts ...SubmitOption) (string, error)
}

// Config holds queue tuning.
type Config struct {
	// MaxAttempts is the default attempt budget per job.
	MaxAttempts int

	// BackoffBase is the delay before the first retry of a failed job. It
	// doubles with every attempt up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BackoffBase: 5 * time.Second,
		BackoffMax:  5 * time.Minute,
		Logger:      log.New(os.Stderr, "[queue] ", log.LstdFlags),
	}
}

// Queue is a SQL-backed job queue.
type Queue struct {
	conn   *sqldb.Conn
	config *Config
	now    func() time.Time
}

// Open opens the queue database and creates the jobs table.
func Open(ctx context.Context, opts sqldb.Options, config *Config) (*Queue, error) {
	conn, err := sqldb.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	q := New(conn, config)
	if err := q.Init(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

// New wraps an open connection. Call Init before use.
func New(conn *sqldb.Conn, config *Config) *Queue {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaults.BackoffBase
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = defaults.BackoffMax
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	return &Queue{
		conn:   conn,
		config: config,
		now:    time.Now,
	}
}

// Close closes the queue database.
func (q *Queue) Close() error {
	return q.conn.Close()
}

// Init creates the jobs table. It is idempotent.
func (q *Queue) Init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			args TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			run_at BIGINT NOT NULL,
			locked_by TEXT,
			locked_at BIGINT,
			last_error TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, run_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_name ON jobs(name)`,
	}
	for _, stmt := range statements {
		if _, err := q.conn.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize queue schema: %w", err)
		}
	}
	return nil
}

// SubmitOption customises a submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	delay       time.Duration
	maxAttempts int
	unique      bool
}

// WithDelay schedules the job to run no earlier than d from now.
func WithDelay(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.delay = d }
}

// WithMaxAttempts overrides the attempt budget of the job.
func WithMaxAttempts(n int) SubmitOption {
	return func(o *submitOptions) { o.maxAttempts = n }
}

// Unique skips the submission when a pending job with the same name already
// exists. Submit then returns the id of that job.
func Unique() SubmitOption {
	return func(o *submitOptions) { o.unique = true }
}

// Submit enqueues a job and returns its id.
func (q *Queue) Submit(ctx context.Context, name string, args Args, opts ...SubmitOption) (string, error) {
	if name == "" {
		return "", fmt.Errorf("job name cannot be empty")
	}

	o := submitOptions{maxAttempts: q.config.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = q.config.MaxAttempts
	}

	encoded, err := args.encode()
	if err != nil {
		return "", fmt.Errorf("invalid args for %s: %w", name, err)
	}

	now := q.now()
	id := uuid.NewString()
	values := []any{
		id, name, encoded, string(StatusPending), o.maxAttempts,
		millis(now.Add(o.delay)), millis(now), millis(now),
	}

	if !o.unique {
		query := q.conn.Rebind(`
		INSERT INTO jobs (id, name, args, status, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
		`)
		if _, err := q.conn.DB.ExecContext(ctx, query, values...); err != nil {
			return "", fmt.Errorf("failed to submit %s: %w", name, err)
		}
		return id, nil
	}

	query := q.conn.Rebind(`
	INSERT INTO jobs (id, name, args, status, attempts, max_attempts, run_at, created_at, updated_at)
	SELECT CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS TEXT), 0,
		CAST(? AS INTEGER), CAST(? AS BIGINT), CAST(? AS BIGINT), CAST(? AS BIGINT)
	WHERE NOT EXISTS (SELECT 1 FROM jobs WHERE name = ? AND status = ?)
	`)
	result, err := q.conn.DB.ExecContext(ctx, query, append(values, name, string(StatusPending))...)
	if err != nil {
		return "", fmt.Errorf("failed to submit %s: %w", name, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return id, nil
	}

	var existing string
	query = q.conn.Rebind(`SELECT id FROM jobs WHERE name = ? AND status = ? ORDER BY created_at LIMIT 1`)
	err = q.conn.DB.QueryRowContext(ctx, query, name, string(StatusPending)).Scan(&existing)
	if err == sql.ErrNoRows {
		// Claimed between the insert and this lookup; submit a fresh one.
		return q.Submit(ctx, name, args, withoutUnique(opts)...)
	}
	if err != nil {
		return "", fmt.Errorf("failed to find pending %s: %w", name, err)
	}
	return existing, nil
}

func withoutUnique(opts []SubmitOption) []SubmitOption {
	return append(opts[:len(opts):len(opts)], func(o *submitOptions) { o.unique = false })
}

const jobColumns = `id, name, args, status, attempts, max_attempts, run_at, locked_by, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                    Job
		args, status           string
		lockedBy, lastErr      sql.NullString
		runAt, created, update int64
	)
	err := row.Scan(&job.ID, &job.Name, &args, &status, &job.Attempts, &job.MaxAttempts,
		&runAt, &lockedBy, &lastErr, &created, &update)
	if err != nil {
		return nil, err
	}
	job.Args, err = decodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Status = Status(status)
	job.RunAt = fromMillis(runAt)
	job.LockedBy = lockedBy.String
	job.LastError = lastErr.String
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(update)
	return &job, nil
}

// Claim atomically takes the oldest due pending job for workerID and marks
// it running. It returns ErrNoJob when nothing is due.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	lock := ""
	if q.conn.Dialect == sqldb.Postgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}

	now := millis(q.now())
	query := q.conn.Rebind(`
	UPDATE jobs
	SET status = ?, attempts = attempts + 1, locked_by = ?, locked_at = ?, updated_at = ?
	WHERE status = ? AND id = (
		SELECT id FROM jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at, created_at
		LIMIT 1` + lock + `
	)
	RETURNING ` + jobColumns)

	job, err := scanJob(q.conn.DB.QueryRowContext(ctx, query,
		string(StatusRunning), workerID, now, now,
		string(StatusPending), string(StatusPending), now,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// Complete marks a job held by workerID done.
func (q *Queue) Complete(ctx context.Context, id, workerID string) error {
	query := q.conn.Rebind(`
	UPDATE jobs SET status = ?, locked_by = NULL, locked_at = NULL, last_error = NULL, updated_at = ?
	WHERE id = ? AND status = ? AND locked_by = ?
	`)
	return q.settle(ctx, id, query, string(StatusDone), millis(q.now()), id, string(StatusRunning), workerID)
}

// Fail records cause against a job held by workerID. The job is retried
// with exponential backoff until its attempts are used up, then marked
// failed. It reports whether the job will be retried.
func (q *Queue) Fail(ctx context.Context, id, workerID string, cause error) (bool, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Status != StatusRunning || job.LockedBy != workerID {
		return false, fmt.Errorf("job %s: %w", id, ErrLockLost)
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := q.now()

	if job.Attempts >= job.MaxAttempts {
		query := q.conn.Rebind(`
		UPDATE jobs SET status = ?, locked_by = NULL, locked_at = NULL, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ? AND locked_by = ?
		`)
		return false, q.settle(ctx, id, query, string(StatusFailed), msg, millis(now), id, string(StatusRunning), workerID)
	}

	runAt := now.Add(q.backoff(job.Attempts))
	query := q.conn.Rebind(`
	UPDATE jobs SET status = ?, run_at = ?, locked_by = NULL, locked_at = NULL, last_error = ?, updated_at = ?
	WHERE id = ? AND status = ? AND locked_by = ?
	`)
	return true, q.settle(ctx, id, query, string(StatusPending), millis(runAt), msg, millis(now), id, string(StatusRunning), workerID)
}

// RetryAt puts a job held by workerID back to pending, due at runAt,
// without using up an attempt. reason is kept as the job's last error.
func (q *Queue) RetryAt(ctx context.Context, id, workerID string, runAt time.Time, reason string) error {
	query := q.conn.Rebind(`
	UPDATE jobs
	SET status = ?, run_at = ?, attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END,
		locked_by = NULL, locked_at = NULL, last_error = ?, updated_at = ?
	WHERE id = ? AND status = ? AND locked_by = ?
	`)
	return q.settle(ctx, id, query, string(StatusPending), millis(runAt), reason, millis(q.now()), id, string(StatusRunning), workerID)
}

// Requeue resets a finished job to pending with a fresh attempt budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	now := millis(q.now())
	query := q.conn.Rebind(`
	UPDATE jobs SET status = ?, attempts = 0, run_at = ?, locked_by = NULL, locked_at = NULL, updated_at = ?
	WHERE id = ? AND status IN (?, ?)
	`)
	result, err := q.conn.DB.ExecContext(ctx, query,
		string(StatusPending), now, now, id, string(StatusFailed), string(StatusDone))
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := q.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job %s is not finished", id)
	}
	return nil
}

// RecoverStale returns running jobs locked longer than olderThan to pending.
// It is how a job held by a crashed worker gets delivered again.
func (q *Queue) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := q.now()
	query := q.conn.Rebind(`
	UPDATE jobs SET status = ?, locked_by = NULL, locked_at = NULL, last_error = ?, updated_at = ?
	WHERE status = ? AND locked_at < ?
	`)
	result, err := q.conn.DB.ExecContext(ctx, query,
		string(StatusPending), "recovered from stale lock", millis(now),
		string(StatusRunning), millis(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		q.config.Logger.Printf("Recovered %d stale jobs", n)
	}
	return n, nil
}

// Get returns job id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	query := q.conn.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)
	job, err := scanJob(q.conn.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListOptions filters List. Zero values mean no filter.
type ListOptions struct {
	Status Status
	Name   string
	Since  time.Time
	Limit  int
}

// List returns jobs matching opts, newest first.
func (q *Queue) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Name != "" {
		where = append(where, "name = ?")
		args = append(args, opts.Name)
	}
	if !opts.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, millis(opts.Since))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := q.conn.DB.QueryContext(ctx, q.conn.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// Purge deletes finished jobs in status that were last updated before
// before. A zero before purges all of them.
func (q *Queue) Purge(ctx context.Context, status Status, before time.Time) (int64, error) {
	if status != StatusDone && status != StatusFailed {
		return 0, fmt.Errorf("only done or failed jobs can be purged, not %q", status)
	}

	query := `DELETE FROM jobs WHERE status = ?`
	args := []any{string(status)}
	if !before.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, millis(before))
	}

	result, err := q.conn.DB.ExecContext(ctx, q.conn.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Stats counts jobs by status.
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := q.conn.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// settle runs an update guarded by the caller's claim on job id. No
// affected row means the job is gone or held by someone else.
func (q *Queue) settle(ctx context.Context, id, query string, args ...any) error {
	result, err := q.conn.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := q.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("job %s: %w", id, ErrLockLost)
}

// backoff returns the retry delay after attempt n (1-based).
func (q *Queue) backoff(n int) time.Duration {
	d := q.config.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= q.config.BackoffMax {
			return q.config.BackoffMax
		}
	}
	return d
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
