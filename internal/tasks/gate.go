package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// ErrRetryLater asks the worker to run the job again after Delay without
// counting the attempt as a failure.
type ErrRetryLater struct {
	Delay  time.Duration
	Reason string
}

func (e *ErrRetryLater) Error() string {
	return fmt.Sprintf("retry in %s: %s", e.Delay, e.Reason)
}

// AsRetryLater extracts an ErrRetryLater from err's chain.
func AsRetryLater(err error) (*ErrRetryLater, bool) {
	var retry *ErrRetryLater
	if errors.As(err, &retry) {
		return retry, true
	}
	return nil, false
}

// Gate decides whether heavy work may start now.
type Gate interface {
	Admit(ctx context.Context) error
}

// DefaultRetryDelay is how long a deferred job waits before its next try.
const DefaultRetryDelay = 30 * time.Second

// MemoryGate admits work only while available system memory is at least
// MinFree bytes. A zero MinFree admits everything.
type MemoryGate struct {
	MinFree    uint64
	RetryDelay time.Duration
	Logger     *log.Logger

	available func(ctx context.Context) (uint64, error)
}

// NewMemoryGate creates a gate with floor minFree bytes.
func NewMemoryGate(minFree uint64, retryDelay time.Duration, logger *log.Logger) *MemoryGate {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &MemoryGate{
		MinFree:    minFree,
		RetryDelay: retryDelay,
		Logger:     logger,
		available:  availableMemory,
	}
}

func availableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Admit returns an *ErrRetryLater when memory is below the floor. If memory
// cannot be read the work is admitted.
func (g *MemoryGate) Admit(ctx context.Context) error {
	if g.MinFree == 0 {
		return nil
	}
	read := g.available
	if read == nil {
		read = availableMemory
	}

	avail, err := read(ctx)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Printf("Warning: failed to read available memory: %v", err)
		}
		return nil
	}
	if avail < g.MinFree {
		return &ErrRetryLater{
			Delay:  g.RetryDelay,
			Reason: fmt.Sprintf("available memory %d MB below floor %d MB", avail>>20, g.MinFree>>20),
		}
	}
	return nil
}
