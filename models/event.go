package models

import "time"

// Stage identifies a lifecycle controller state. Stages progress
// strictly forward; StageError is terminal and reachable from every
// non-terminal stage.
type Stage string

const (
	StageQueued   Stage = "queued"
	StagePulling  Stage = "pulling_image"
	StageCreating Stage = "creating_container"
	StageAwaiting Stage = "awaiting_health"
	StageComplete Stage = "complete"
	StageError    Stage = "error"
)

// Phase collapses controller sub-states to the four externally
// visible phases: anything between queued and complete reads as
// "running".
func (s Stage) Phase() JobPhase {
	switch s {
	case StageQueued:
		return JobPending
	case StageComplete:
		return JobComplete
	case StageError:
		return JobError
	default:
		return JobRunning
	}
}

// Event is one immutable progress record of a job. Sequence numbers
// are assigned by the event store, gap-free and strictly increasing
// from 0 per job.
type Event struct {
	Sequence int64     `json:"sequence"`
	Status   Stage     `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
	URL      string    `json:"url,omitempty"`
	Time     time.Time `json:"time"`
}
