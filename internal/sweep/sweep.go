// Package sweep implements the full reconciliation pass: it compares every
// audio file under the storage root with every record in the metadata store
// and submits add and delete jobs for the differences.
//
// The sweep never writes to the store. It is the correctness backstop for
// missed filesystem events, so it may over-submit; the task handlers are
// idempotent.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sciber-ai/audiosync/internal/jobs"
	"github.com/sciber-ai/audiosync/internal/layout"
	"github.com/sciber-ai/audiosync/internal/metrics"
	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/queue"
	"github.com/sciber-ai/audiosync/internal/store"
)

// ErrSweepInProgress is returned by Run when another sweep holds the lock.
var ErrSweepInProgress = errors.New("sweep already in progress")

// RecordLister reads file records. *store.DB implements it.
type RecordLister interface {
	ListFiles(ctx context.Context, opts store.ListOptions) ([]*model.FileRecord, error)
}

// Result summarises one sweep.
type Result struct {
	OnDisk       int           `json:"on_disk"`
	Records      int           `json:"records"`
	Added        int           `json:"added"`
	Deleted      int           `json:"deleted"`
	Unchanged    int           `json:"unchanged"`
	SubmitErrors int           `json:"submit_errors"`
	Duration     time.Duration `json:"duration"`
}

// Config configures a Sweeper.
type Config struct {
	// Root is the storage root containing one directory per model tag.
	Root string

	// OwnerID is stamped on add requests. Zero means the default owner.
	OwnerID int64

	Logger *log.Logger
}

// Sweeper runs sweeps. At most one sweep runs at a time per Sweeper.
type Sweeper struct {
	root      string
	ownerID   int64
	records   RecordLister
	submitter queue.Submitter
	logger    *log.Logger

	mu sync.Mutex
}

// New creates a Sweeper.
func New(records RecordLister, submitter queue.Submitter, config Config) (*Sweeper, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if records == nil {
		return nil, fmt.Errorf("record lister cannot be nil")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sweep] ", log.LstdFlags)
	}
	if config.OwnerID == 0 {
		config.OwnerID = model.DefaultOwnerID
	}

	return &Sweeper{
		root:      config.Root,
		ownerID:   config.OwnerID,
		records:   records,
		submitter: submitter,
		logger:    config.Logger,
	}, nil
}

// Run performs one sweep. If a sweep is already running it returns
// ErrSweepInProgress immediately; the attempt is dropped, not queued.
//
// Submission failures are counted in the result and logged, and do not
// abort the sweep. The next sweep derives the same submissions again.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		s.logger.Printf("Sweep already in progress, skipping")
		metrics.Sweeps.WithLabelValues(metrics.SweepSkipped).Inc()
		return nil, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	start := time.Now()
	result, err := s.run(ctx)
	if err != nil {
		metrics.Sweeps.WithLabelValues(metrics.SweepFailed).Inc()
		return nil, err
	}
	result.Duration = time.Since(start)

	metrics.Sweeps.WithLabelValues(metrics.SweepCompleted).Inc()
	metrics.SweepDuration.Observe(result.Duration.Seconds())
	metrics.SweepDrift.WithLabelValues("add").Add(float64(result.Added))
	metrics.SweepDrift.WithLabelValues("delete").Add(float64(result.Deleted))

	if result.Added > 0 || result.Deleted > 0 || result.SubmitErrors > 0 {
		s.logger.Printf("Sweep complete: %d on disk, %d records, %d added, %d deleted, %d submit errors",
			result.OnDisk, result.Records, result.Added, result.Deleted, result.SubmitErrors)
	}
	return result, nil
}

func (s *Sweeper) run(ctx context.Context) (*Result, error) {
	files, err := layout.Scan(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan storage: %w", err)
	}

	records, err := s.records.ListFiles(ctx, store.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	result := &Result{OnDisk: len(files), Records: len(records)}

	onDisk := make(map[model.FileKey]struct{}, len(files))
	for _, f := range files {
		onDisk[f.Key] = struct{}{}
	}
	inStore := make(map[model.FileKey]struct{}, len(records))
	for _, rec := range records {
		inStore[rec.Key()] = struct{}{}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := inStore[f.Key]; ok {
			result.Unchanged++
			continue
		}
		_, err := jobs.SubmitAddFile(ctx, s.submitter, jobs.NewAddFileArgs(f, s.ownerID))
		metrics.ObserveSubmission(jobs.AddFile, err)
		if err != nil {
			result.SubmitErrors++
			s.logger.Printf("Warning: failed to submit add for %s: %v", f.Key, err)
			continue
		}
		result.Added++
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := rec.Key()
		if _, ok := onDisk[key]; ok || s.present(key) {
			continue
		}
		_, err := jobs.SubmitDeleteFile(ctx, s.submitter, jobs.DeleteFileArgs{
			Filename: key.Filename,
			ModelTag: key.ModelTag,
		})
		metrics.ObserveSubmission(jobs.DeleteFile, err)
		if err != nil {
			result.SubmitErrors++
			s.logger.Printf("Warning: failed to submit delete for %s: %v", key, err)
			continue
		}
		result.Deleted++
	}

	return result, nil
}

// present reports whether the expected path of key exists. It covers files
// that appeared after the scan.
func (s *Sweeper) present(key model.FileKey) bool {
	_, err := os.Stat(key.ExpectedPath(s.root))
	return err == nil
}
