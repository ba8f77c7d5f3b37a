package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change would move a record
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// FileStatus is the lifecycle state of a FileRecord.
type FileStatus string

const (
	StatusUploaded   FileStatus = "uploaded"
	StatusProcessing FileStatus = "processing"
	StatusDone       FileStatus = "done"
	StatusFailed     FileStatus = "failed"
)

// AllFileStatuses returns the statuses in lifecycle order.
func AllFileStatuses() []FileStatus {
	return []FileStatus{StatusUploaded, StatusProcessing, StatusDone, StatusFailed}
}

// IsValid reports whether s is a known status.
func (s FileStatus) IsValid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s FileStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// rank orders statuses for monotonicity checks. DONE and FAILED share a rank.
func (s FileStatus) rank() int {
	switch s {
	case StatusUploaded:
		return 0
	case StatusProcessing:
		return 1
	case StatusDone, StatusFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether a record in status s may move to next.
// Transitions are strictly forward; terminal states have no exits.
func (s FileStatus) CanTransition(next FileStatus) bool {
	if !s.IsValid() || !next.IsValid() || s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Predecessors returns every status from which s is reachable in one step.
// The store uses it to build conditional updates.
func (s FileStatus) Predecessors() []FileStatus {
	var from []FileStatus
	for _, prev := range AllFileStatuses() {
		if prev.CanTransition(s) {
			from = append(from, prev)
		}
	}
	return from
}

// CheckTransition returns ErrInvalidTransition wrapped with context when the
// transition is not allowed.
func CheckTransition(from, to FileStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// StageStatus is the state of a downstream processing record.
type StageStatus string

const (
	StageProcessing StageStatus = "processing"
	StageDone       StageStatus = "done"
	StageFailed     StageStatus = "failed"
)

// IsValid reports whether s is a known stage status.
func (s StageStatus) IsValid() bool {
	switch s {
	case StageProcessing, StageDone, StageFailed:
		return true
	}
	return false
}
