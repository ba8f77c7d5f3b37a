// Package tasks is the worker task set: the only code that mutates the
// metadata store. Every handler is idempotent so that duplicate or replayed
// jobs converge on the same state.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sciber-ai/audiosync/internal/jobs"
	"github.com/sciber-ai/audiosync/internal/layout"
	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/pipeline"
	"github.com/sciber-ai/audiosync/internal/queue"
	"github.com/sciber-ai/audiosync/internal/store"
	"github.com/sciber-ai/audiosync/internal/sweep"
)

// Sweeper runs a full reconciliation sweep.
type Sweeper interface {
	Run(ctx context.Context) (*sweep.Result, error)
}

// Config configures the task set.
type Config struct {
	// Root is the storage root record paths are relative to.
	Root string

	Stages pipeline.Stages

	// Gate guards process-file. Nil admits everything.
	Gate Gate

	// Sweeper serves sync_storage_with_db. Nil makes that job fail.
	Sweeper Sweeper

	Logger *log.Logger
}

// Tasks executes jobs against the store.
type Tasks struct {
	store     *store.DB
	submitter queue.Submitter
	root      string
	stages    pipeline.Stages
	gate      Gate
	sweeper   Sweeper
	logger    *log.Logger
	now       func() time.Time
}

// New creates a task set.
func New(db *store.DB, submitter queue.Submitter, config Config) (*Tasks, error) {
	if db == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}
	if config.Root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[tasks] ", log.LstdFlags)
	}

	return &Tasks{
		store:     db,
		submitter: submitter,
		root:      config.Root,
		stages:    config.Stages.WithDefaults(),
		gate:      config.Gate,
		sweeper:   config.Sweeper,
		logger:    config.Logger,
		now:       time.Now,
	}, nil
}

// Handlers maps every job name to its handler.
func (t *Tasks) Handlers() map[string]func(context.Context, queue.Args) error {
	return map[string]func(context.Context, queue.Args) error{
		jobs.AddFile:     t.handleAddFile,
		jobs.DeleteFile:  t.handleDeleteFile,
		jobs.ProcessFile: t.handleProcessFile,
		jobs.SyncStorage: t.handleSync,
	}
}

// AddFile registers the file described by a and returns its id. An existing
// record for the same key is returned unchanged with created false. The
// content type comes from the extension; processing refines it.
func (t *Tasks) AddFile(ctx context.Context, a jobs.AddFileArgs) (int64, bool, error) {
	params := a.Params()
	params.ContentType = layout.ContentTypeFor(a.RelativePath)

	rec, err := model.NewFileRecord(params)
	if err != nil {
		return 0, false, fmt.Errorf("invalid file %s: %w", a.Key(), err)
	}
	return t.store.AddFile(ctx, rec)
}

// DeleteFile removes the record for a and its child records. It reports
// whether a record existed.
func (t *Tasks) DeleteFile(ctx context.Context, a jobs.DeleteFileArgs) (bool, error) {
	return t.store.DeleteFile(ctx, a.Key())
}

func (t *Tasks) handleAddFile(ctx context.Context, args queue.Args) error {
	a, err := jobs.ParseAddFileArgs(args)
	if err != nil {
		return err
	}

	id, created, err := t.AddFile(ctx, a)
	if err != nil {
		return err
	}

	if !created {
		// A record still waiting in uploaded may have lost its process
		// submission; anything further along is left alone.
		rec, err := t.store.GetFile(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status != model.StatusUploaded {
			return nil
		}
	} else {
		t.logger.Printf("Registered %s as file %d", a.Key(), id)
	}

	_, err = jobs.SubmitProcessFile(ctx, t.submitter, id)
	if err != nil {
		return fmt.Errorf("failed to submit processing for file %d: %w", id, err)
	}
	return nil
}

func (t *Tasks) handleDeleteFile(ctx context.Context, args queue.Args) error {
	a, err := jobs.ParseDeleteFileArgs(args)
	if err != nil {
		return err
	}

	found, err := t.DeleteFile(ctx, a)
	if err != nil {
		return err
	}
	if found {
		t.logger.Printf("Removed record for %s", a.Key())
	}
	return nil
}

func (t *Tasks) handleProcessFile(ctx context.Context, args queue.Args) error {
	a, err := jobs.ParseProcessFileArgs(args)
	if err != nil {
		return err
	}
	return t.ProcessFile(ctx, a.RecordID)
}

func (t *Tasks) handleSync(ctx context.Context, _ queue.Args) error {
	if t.sweeper == nil {
		return fmt.Errorf("no sweeper configured")
	}
	_, err := t.sweeper.Run(ctx)
	if errors.Is(err, sweep.ErrSweepInProgress) {
		return nil
	}
	return err
}

func (t *Tasks) abs(rel string) string {
	return filepath.Join(t.root, filepath.FromSlash(rel))
}
