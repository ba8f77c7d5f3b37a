// Package worker runs queued jobs.
//
// A Pool claims due jobs from the queue with a fixed number of goroutines
// and dispatches each to the handler registered for its name. The outcome
// decides what happens to the job:
//
//   - nil: the job is completed
//   - *tasks.ErrRetryLater: the job is rescheduled without using an attempt
//   - any other error or a panic: the job is failed and retried with backoff
//     until its attempts run out
//
// Jobs held by a worker that died are returned to the queue by a periodic
// stale-lock sweep, so delivery is at least once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sciber-ai/audiosync/internal/metrics"
	"github.com/sciber-ai/audiosync/internal/queue"
	"github.com/sciber-ai/audiosync/internal/tasks"
)

// HandlerFunc runs one job.
type HandlerFunc func(ctx context.Context, args queue.Args) error

// Queue is the part of *queue.Queue the pool uses.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*queue.Job, error)
	Complete(ctx context.Context, id, workerID string) error
	Fail(ctx context.Context, id, workerID string, cause error) (bool, error)
	RetryAt(ctx context.Context, id, workerID string, runAt time.Time, reason string) error
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config holds configuration for the pool.
type Config struct {
	// Concurrency is the number of jobs run in parallel.
	Concurrency int

	// PollInterval is how long an idle worker waits before claiming again.
	PollInterval time.Duration

	// StaleAfter is how long a job may stay locked before it is assumed
	// abandoned and returned to the queue.
	StaleAfter time.Duration

	// JobTimeout bounds a single job. Zero means no limit.
	JobTimeout time.Duration

	// ID prefixes the worker ids recorded on claimed jobs.
	ID string

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	host, _ := os.Hostname()
	return &Config{
		Concurrency:  2,
		PollInterval: 500 * time.Millisecond,
		StaleAfter:   30 * time.Minute,
		ID:           fmt.Sprintf("%s-%d", host, os.Getpid()),
		Logger:       log.New(os.Stderr, "[worker] ", log.LstdFlags),
	}
}

// Pool claims and runs jobs.
type Pool struct {
	queue    Queue
	config   *Config
	handlers map[string]HandlerFunc
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool with default configuration.
func New(q Queue) (*Pool, error) {
	return NewWithConfig(q, DefaultConfig())
}

// NewWithConfig creates a pool with custom configuration.
func NewWithConfig(q Queue, config *Config) (*Pool, error) {
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.ID == "" {
		config.ID = defaults.ID
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:    q,
		config:   config,
		handlers: make(map[string]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Register sets the handler for job name.
func (p *Pool) Register(name string, h HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

// RegisterAll registers every handler in hs.
func (p *Pool) RegisterAll(hs map[string]func(context.Context, queue.Args) error) {
	for name, h := range hs {
		p.Register(name, h)
	}
}

func (p *Pool) handler(name string) (HandlerFunc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[name]
	return h, ok
}

// Start runs the pool until ctx is cancelled or Stop is called. Jobs that
// have started are allowed to finish.
func (p *Pool) Start(ctx context.Context) error {
	p.config.Logger.Printf("Starting %d workers", p.config.Concurrency)

	if _, err := p.queue.RecoverStale(ctx, p.config.StaleAfter); err != nil {
		p.config.Logger.Printf("Warning: failed to recover stale jobs: %v", err)
	}

	p.wg.Add(p.config.Concurrency + 1)
	for i := 0; i < p.config.Concurrency; i++ {
		go p.work(fmt.Sprintf("%s/%d", p.config.ID, i))
	}
	go p.recoverStale()

	select {
	case <-ctx.Done():
		p.config.Logger.Println("Shutdown signal received")
		return p.Stop()
	case <-p.ctx.Done():
		return nil
	}
}

// Stop signals the workers to exit and waits for running jobs.
func (p *Pool) Stop() error {
	p.config.Logger.Println("Stopping workers")
	p.cancel()
	p.wg.Wait()
	p.config.Logger.Println("Workers stopped")
	return nil
}

func (p *Pool) work(workerID string) {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}

		ran, err := p.RunOnce(p.ctx, workerID)
		if err != nil && p.ctx.Err() == nil {
			p.config.Logger.Printf("Warning: %v", err)
		}
		if ran {
			continue
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.config.PollInterval):
		}
	}
}

func (p *Pool) recoverStale() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.StaleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.RecoverStale(p.ctx, p.config.StaleAfter); err != nil {
				p.config.Logger.Printf("Warning: failed to recover stale jobs: %v", err)
			}
		}
	}
}

// RunOnce claims one due job and runs it. It reports whether a job was run.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := p.queue.Claim(ctx, workerID)
	if errors.Is(err, queue.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// A started job runs to an outcome even if the pool is stopping.
	jobCtx := queue.WithDelivery(context.WithoutCancel(ctx), job)
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, p.config.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	runErr := p.execute(jobCtx, job)
	metrics.JobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	err = p.settle(context.WithoutCancel(ctx), job, workerID, runErr)
	if errors.Is(err, queue.ErrLockLost) {
		p.config.Logger.Printf("Warning: job %s (%s) was reclaimed while running, outcome dropped", job.ID, job.Name)
		return true, nil
	}
	return true, err
}

func (p *Pool) execute(ctx context.Context, job *queue.Job) (err error) {
	h, ok := p.handler(job.Name)
	if !ok {
		return fmt.Errorf("no handler registered for job %q", job.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			p.config.Logger.Printf("Job %s (%s) panicked: %v\n%s", job.ID, job.Name, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return h(ctx, job.Args)
}

// settle records the outcome of job in the queue.
func (p *Pool) settle(ctx context.Context, job *queue.Job, workerID string, runErr error) error {
	if runErr == nil {
		metrics.JobsProcessed.WithLabelValues(job.Name, metrics.JobDone).Inc()
		if err := p.queue.Complete(ctx, job.ID, workerID); err != nil {
			return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
		return nil
	}

	if retry, ok := tasks.AsRetryLater(runErr); ok {
		metrics.JobsProcessed.WithLabelValues(job.Name, metrics.JobDeferred).Inc()
		metrics.AdmissionDeferrals.Inc()
		p.config.Logger.Printf("Deferring job %s (%s): %s", job.ID, job.Name, retry.Reason)
		if err := p.queue.RetryAt(ctx, job.ID, workerID, time.Now().Add(retry.Delay), retry.Reason); err != nil {
			return fmt.Errorf("failed to reschedule job %s: %w", job.ID, err)
		}
		return nil
	}

	willRetry, err := p.queue.Fail(ctx, job.ID, workerID, runErr)
	if err != nil {
		return fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)
	}
	if willRetry {
		metrics.JobsProcessed.WithLabelValues(job.Name, metrics.JobRetry).Inc()
		p.config.Logger.Printf("Job %s (%s) failed, will retry: %v", job.ID, job.Name, runErr)
	} else {
		metrics.JobsProcessed.WithLabelValues(job.Name, metrics.JobFailed).Inc()
		p.config.Logger.Printf("Job %s (%s) failed permanently: %v", job.ID, job.Name, runErr)
	}
	return nil
}

// NewWorkerID returns a random worker id for one-off runs.
func NewWorkerID() string {
	return "once-" + uuid.NewString()[:8]
}
