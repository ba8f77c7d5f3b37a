package reconciler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sciber-ai/audiosync/internal/model"
)

// DefaultPollInterval is the snapshot period of a PollingWatcher.
const DefaultPollInterval = 2 * time.Second

type fileState struct {
	size    int64
	modTime time.Time
}

// PollingWatcher detects changes by comparing periodic snapshots of the
// model-tag directories. It is meant for mounts that do not deliver native
// notifications, such as some container volumes and network filesystems.
type PollingWatcher struct {
	interval time.Duration
	events   chan Event
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	root     string
	snapshot map[string]fileState
}

// NewPollingWatcher creates a watcher that snapshots every interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingWatcher{
		interval: interval,
		events:   make(chan Event, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}
}

// Start takes the initial snapshot and begins polling. Files present at
// Start produce no events.
func (pw *PollingWatcher) Start(root string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.running {
		return fmt.Errorf("watcher already running")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return fmt.Errorf("failed to watch storage root %s: %w", absRoot, err)
	}
	pw.root = absRoot

	snap, err := takeSnapshot(absRoot)
	if err != nil {
		return err
	}
	pw.snapshot = snap

	pw.running = true
	pw.wg.Add(1)
	go pw.poll()

	return nil
}

// Stop stops polling and closes the channels.
func (pw *PollingWatcher) Stop() error {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.done)
	pw.wg.Wait()

	close(pw.events)
	close(pw.errors)
	return nil
}

func (pw *PollingWatcher) Events() <-chan Event {
	return pw.events
}

func (pw *PollingWatcher) Errors() <-chan error {
	return pw.errors
}

func (pw *PollingWatcher) poll() {
	defer pw.wg.Done()

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.done:
			return
		case <-ticker.C:
			next, err := takeSnapshot(pw.root)
			if err != nil {
				select {
				case pw.errors <- err:
				case <-pw.done:
					return
				}
				continue
			}
			for _, ev := range diffSnapshots(pw.snapshot, next) {
				select {
				case pw.events <- ev:
				case <-pw.done:
					return
				}
			}
			pw.snapshot = next
		}
	}
}

// takeSnapshot records every regular file in the model-tag directories of
// root. Extension filtering is left to the reconciler.
func takeSnapshot(root string) (map[string]fileState, error) {
	snap := make(map[string]fileState)

	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root %s: %w", root, err)
	}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		if _, ok := model.ModelTagFromDir(dir.Name()); !ok {
			continue
		}

		tagDir := filepath.Join(root, dir.Name())
		entries, err := os.ReadDir(tagDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read model directory %s: %w", tagDir, err)
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			snap[filepath.Join(tagDir, entry.Name())] = fileState{
				size:    info.Size(),
				modTime: info.ModTime(),
			}
		}
	}
	return snap, nil
}

// diffSnapshots returns the events that turn prev into next.
func diffSnapshots(prev, next map[string]fileState) []Event {
	var events []Event
	for path, st := range next {
		old, ok := prev[path]
		switch {
		case !ok:
			events = append(events, Event{Path: path, Op: OpCreate})
		case old != st:
			events = append(events, Event{Path: path, Op: OpModify})
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			events = append(events, Event{Path: path, Op: OpDelete})
		}
	}
	return events
}
