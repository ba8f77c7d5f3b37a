// Package reconciler keeps the work queue informed of what is on disk.
//
// It turns filesystem events under the storage root into add and delete
// jobs and schedules full sweeps that heal anything the events missed:
//
//   - a create or write for an audio file inside a model-tag directory
//     starts (or restarts) a debounce timer for that file; when it fires, an
//     add job is submitted
//   - a delete submits a delete job at once and cancels any pending add for
//     the same file
//   - a sweep runs at startup and then on every tick, either as a
//     sync_storage_with_db job for the workers or, in legacy mode, in this
//     process
//
// The reconciler never touches the metadata store. Submission failures are
// logged and left for the next sweep.
package reconciler

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
	"github.com/sciber-ai/audiosync/internal/sweep"
)

// Sweeper runs a full sweep in process.
type Sweeper interface {
	Run(ctx context.Context) (*sweep.Result, error)
}

// Config holds configuration for the reconciler.
type Config struct {
	// Root is the storage root. Missing model-tag directories are created.
	Root string

	// Debounce is the quiet period after the last create or write event for
	// a file before its add job is submitted.
	Debounce time.Duration

	// SweepInterval is the period of full sweeps.
	SweepInterval time.Duration

	// Polling selects the snapshot watcher instead of native notifications.
	Polling      bool
	PollInterval time.Duration

	// InProcessSync runs sweeps in this process instead of submitting
	// sync_storage_with_db jobs. Requires a Sweeper.
	InProcessSync bool

	// OwnerID is stamped on add jobs. Zero means the default owner.
	OwnerID int64

	// Watcher overrides the watcher chosen by Polling.
	Watcher Watcher

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for root.
func DefaultConfig(root string) *Config {
	return &Config{
		Root:          root,
		Debounce:      1500 * time.Millisecond,
		SweepInterval: 30 * time.Second,
		PollInterval:  DefaultPollInterval,
		OwnerID:       model.DefaultOwnerID,
		Logger:        log.New(os.Stderr, "[reconciler] ", log.LstdFlags),
	}
}

// Reconciler watches the storage root and submits jobs.
type Reconciler struct {
	submitter queue.Submitter
	sweeper   Sweeper
	config    *Config
	watcher   Watcher
	debouncer *Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a reconciler. sweeper may be nil unless InProcessSync is set.
func New(submitter queue.Submitter, sweeper Sweeper, config *Config) (*Reconciler, error) {
	if submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}
	if config == nil || config.Root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if config.InProcessSync && sweeper == nil {
		return nil, fmt.Errorf("in-process sync requires a sweeper")
	}
	defaults := DefaultConfig(config.Root)
	if config.Debounce <= 0 {
		config.Debounce = defaults.Debounce
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.OwnerID == 0 {
		config.OwnerID = defaults.OwnerID
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	watcher := config.Watcher
	if watcher == nil {
		if config.Polling {
			watcher = NewPollingWatcher(config.PollInterval)
		} else {
			fw, err := NewFSWatcher()
			if err != nil {
				return nil, err
			}
			watcher = fw
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reconciler{
		submitter: submitter,
		sweeper:   sweeper,
		config:    config,
		watcher:   watcher,
		debouncer: NewDebouncer(config.Debounce),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start prepares the storage root, triggers the startup sweep and then
// watches until ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.config.Logger.Printf("Starting reconciler on %s", r.config.Root)

	if err := layout.EnsureDirs(r.config.Root); err != nil {
		return err
	}

	if err := r.watcher.Start(r.config.Root); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	mode := "native"
	if r.config.Polling {
		mode = "polling"
	}
	r.config.Logger.Printf("Watching %s (%s), sweep every %s", r.config.Root, mode, r.config.SweepInterval)

	r.TriggerSweep(r.ctx)

	r.wg.Add(2)
	go r.watchEvents()
	go r.sweepLoop()

	select {
	case <-ctx.Done():
		r.config.Logger.Println("Shutdown signal received")
		return r.Stop()
	case <-r.ctx.Done():
		return nil
	}
}

// Stop stops watching, drops pending debounced adds and waits for the
// background loops.
func (r *Reconciler) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		r.config.Logger.Println("Stopping reconciler")
		r.cancel()
		r.debouncer.Stop()
		metrics.PendingDebounces.Set(0)

		if stopErr := r.watcher.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop watcher: %w", stopErr)
		}
		r.wg.Wait()
		r.config.Logger.Println("Reconciler stopped")
	})
	return err
}

func (r *Reconciler) watchEvents() {
	defer r.wg.Done()

	events := r.watcher.Events()
	errs := r.watcher.Errors()
	for {
		select {
		case <-r.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			r.HandleEvent(ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (r *Reconciler) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.TriggerSweep(r.ctx)
		}
	}
}

// HandleEvent applies one filesystem event. Paths outside the layout are
// ignored.
func (r *Reconciler) HandleEvent(ev Event) {
	entry, ok := layout.Resolve(r.config.Root, ev.Path)
	if !ok {
		return
	}
	key := entry.Key.String()

	switch ev.Op {
	case OpCreate, OpModify:
		r.debouncer.Schedule(key, func() { r.submitAdd(entry) })

	case OpDelete:
		if r.debouncer.Cancel(key) {
			r.config.Logger.Printf("Cancelled pending add for %s", key)
		}
		r.submitDelete(entry)
	}
	metrics.PendingDebounces.Set(float64(r.debouncer.Pending()))
}

func (r *Reconciler) submitAdd(entry layout.Entry) {
	defer metrics.PendingDebounces.Set(float64(r.debouncer.Pending()))

	info, err := os.Stat(entry.AbsPath)
	if err != nil {
		// Gone before the window closed; its delete event covers it.
		return
	}
	if !info.Mode().IsRegular() {
		return
	}

	args := jobs.NewAddFileArgs(layout.File{Entry: entry, Size: info.Size()}, r.config.OwnerID)
	_, err = jobs.SubmitAddFile(r.ctx, r.submitter, args)
	metrics.ObserveSubmission(jobs.AddFile, err)
	if err != nil {
		r.config.Logger.Printf("Warning: failed to submit add for %s: %v", entry.Key, err)
		return
	}
	r.config.Logger.Printf("Submitted add for %s (%d bytes)", entry.Key, args.Size)
}

func (r *Reconciler) submitDelete(entry layout.Entry) {
	_, err := jobs.SubmitDeleteFile(r.ctx, r.submitter, jobs.DeleteFileArgs{
		Filename: entry.Key.Filename,
		ModelTag: entry.Key.ModelTag,
	})
	metrics.ObserveSubmission(jobs.DeleteFile, err)
	if err != nil {
		r.config.Logger.Printf("Warning: failed to submit delete for %s: %v", entry.Key, err)
		return
	}
	r.config.Logger.Printf("Submitted delete for %s", entry.Key)
}

// TriggerSweep starts one sweep: a sync job, or an in-process run when
// InProcessSync is set. A sync job still waiting in the queue absorbs the
// trigger. Failures are logged.
func (r *Reconciler) TriggerSweep(ctx context.Context) {
	if !r.config.InProcessSync {
		_, err := jobs.SubmitSync(ctx, r.submitter)
		metrics.ObserveSubmission(jobs.SyncStorage, err)
		if err != nil {
			r.config.Logger.Printf("Warning: failed to submit sync: %v", err)
		}
		return
	}

	_, err := r.sweeper.Run(ctx)
	switch {
	case errors.Is(err, sweep.ErrSweepInProgress):
		// Logged by the sweeper.
	case err != nil && ctx.Err() == nil:
		r.config.Logger.Printf("Warning: sweep failed: %v", err)
	}
}

// PendingAdds returns the number of debounced adds waiting to fire.
func (r *Reconciler) PendingAdds() int {
	return r.debouncer.Pending()
}
