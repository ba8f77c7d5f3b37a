package dashboard

import (
	"context"
	"time"

	"github.com/sciber-ai/audiosync/internal/metrics"
	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/store"
)

func (s *Server) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.poll(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll(s.ctx)
		}
	}
}

// poll refreshes the file gauge and broadcasts stats and file changes.
func (s *Server) poll(ctx context.Context) {
	msg, err := s.statsMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("Warning: failed to poll stats: %v", err)
		}
		return
	}

	files, err := s.store.ListFiles(ctx, store.ListOptions{Newest: true, Limit: s.config.PollLimit})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("Warning: failed to poll files: %v", err)
		}
		return
	}

	updates := s.diff(files)
	s.Broadcast(msg)
	for _, update := range updates {
		if m, err := newMessage(MessageTypeFileUpdate, update); err == nil {
			s.Broadcast(m)
		}
	}
}

// statsMessage loads the store counts, refreshes the file gauge and wraps
// the counts in a stats message.
func (s *Server) statsMessage(ctx context.Context) (Message, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return Message{}, err
	}
	for _, st := range model.AllFileStatuses() {
		metrics.FilesByStatus.WithLabelValues(string(st)).Set(float64(stats.ByStatus[st]))
	}
	return newMessage(MessageTypeStats, stats)
}

// diff compares files with the previous poll. The first poll only primes
// the state. Records that drop out of the tracked window are reported as
// deleted only when the window was not full.
func (s *Server) diff(files []*model.FileRecord) []FileUpdateData {
	now := time.Now().UTC()
	current := make(map[int64]*model.FileRecord, len(files))
	for _, f := range files {
		current[f.ID] = f
	}

	var updates []FileUpdateData
	if s.primed {
		for _, f := range files {
			prev, ok := s.lastSeen[f.ID]
			switch {
			case !ok:
				updates = append(updates, fileUpdate(f, "created", "", now))
			case prev.Status != f.Status:
				updates = append(updates, fileUpdate(f, "updated", prev.Status, now))
			}
		}
		if len(files) < s.config.PollLimit {
			for id, prev := range s.lastSeen {
				if _, ok := current[id]; !ok {
					updates = append(updates, FileUpdateData{
						ID:        prev.ID,
						Filename:  prev.Filename,
						ModelTag:  prev.ModelTag,
						Action:    "deleted",
						Previous:  prev.Status,
						UpdatedAt: now,
					})
				}
			}
		}
	}

	s.lastSeen = current
	s.primed = true
	return updates
}

func fileUpdate(f *model.FileRecord, action string, previous model.FileStatus, at time.Time) FileUpdateData {
	return FileUpdateData{
		ID:        f.ID,
		Filename:  f.Filename,
		ModelTag:  f.ModelTag,
		Action:    action,
		Status:    f.Status,
		Previous:  previous,
		UpdatedAt: at,
	}
}
