package reconciler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/sciber-ai/audiosync/internal/model"
)

// EventOp is the kind of filesystem change.
type EventOp int

const (
	// OpCreate indicates a file appeared.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file vanished or was renamed away.
	OpDelete
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a change to a path under the storage root. Paths are not
// filtered; the reconciler decides which ones matter.
type Event struct {
	Path string
	Op   EventOp
}

// Watcher delivers filesystem events for a storage root.
type Watcher interface {
	// Start begins watching root. Events are delivered until Stop.
	Start(root string) error
	// Stop ends watching and closes both channels.
	Stop() error
	Events() <-chan Event
	Errors() <-chan error
}

// FSWatcher watches the storage root and its model-tag directories with
// native notifications. Tag directories created after Start are picked up.
type FSWatcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
}

// NewFSWatcher creates a watcher. It must be started before it emits events.
func NewFSWatcher() (*FSWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FSWatcher{
		watcher: watcher,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start watches root and every model-tag directory inside it.
func (fw *FSWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	fw.root = absRoot

	if err := fw.watcher.Add(absRoot); err != nil {
		return fmt.Errorf("failed to watch storage root %s: %w", absRoot, err)
	}

	entries, err := os.ReadDir(absRoot)
	if err != nil {
		fw.watcher.Remove(absRoot)
		return fmt.Errorf("failed to read storage root %s: %w", absRoot, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := model.ModelTagFromDir(entry.Name()); !ok {
			continue
		}
		dir := filepath.Join(absRoot, entry.Name())
		if err := fw.watcher.Add(dir); err != nil {
			fw.watcher.Remove(absRoot)
			return fmt.Errorf("failed to watch model directory %s: %w", dir, err)
		}
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and closes the channels. It blocks until the event
// loop has exited.
func (fw *FSWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

func (fw *FSWatcher) Events() <-chan Event {
	return fw.events
}

func (fw *FSWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FSWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FSWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fw.watchNewTagDir(event) {
				continue
			}

			if ev, ok := convertEvent(event); ok {
				if !fw.emit(ev) {
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

func (fw *FSWatcher) emit(ev Event) bool {
	select {
	case fw.events <- ev:
		return true
	case <-fw.done:
		return false
	}
}

// watchNewTagDir adds a watch for a model-tag directory created directly
// under the root and emits creates for files already inside it. It reports
// whether event was consumed.
func (fw *FSWatcher) watchNewTagDir(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) || filepath.Dir(event.Name) != fw.root {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return false
	}
	if _, ok := model.ModelTagFromDir(filepath.Base(event.Name)); !ok {
		return true
	}

	if err := fw.watcher.Add(event.Name); err != nil {
		select {
		case fw.errors <- fmt.Errorf("failed to watch new model directory %s: %w", event.Name, err):
		case <-fw.done:
		}
		return true
	}

	// Files written before the watch was added produce no events.
	entries, err := os.ReadDir(event.Name)
	if err != nil {
		return true
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			if !fw.emit(Event{Path: filepath.Join(event.Name, entry.Name()), Op: OpCreate}) {
				return true
			}
		}
	}
	return true
}

// convertEvent maps an fsnotify event to an Event. Chmod-only events are
// dropped.
func convertEvent(event fsnotify.Event) (Event, bool) {
	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// The new name, if it is inside the root, arrives as a create.
		op = OpDelete
	default:
		return Event{}, false
	}

	return Event{Path: event.Name, Op: op}, true
}
