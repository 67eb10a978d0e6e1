// Package events is the durable, TTL-bounded progress log for
// provisioning jobs. The lifecycle controller is the only writer for
// a given job; any number of pollers read concurrently.
package events

import (
	"context"
	"errors"

	"github.com/roost-sh/roost/models"
)

// ErrUnknownJob is returned when a job has no record in the store,
// either because it never existed or because its TTL expired. It is
// distinct from a reachable store with no events yet (empty slice)
// and from a store-level failure (any other error).
var ErrUnknownJob = errors.New("events: unknown job")

// Store persists per-job progress events and the job's current phase.
type Store interface {
	// Register creates the job record in the pending phase. Called by
	// the publisher before the job message is enqueued so pollers can
	// resolve the ID immediately.
	Register(ctx context.Context, job models.Job) error

	// Append persists an event and returns its assigned sequence
	// number. Sequence numbers per job start at 0 and are gap-free.
	// The job record's phase, progress, and message are updated from
	// the event as a side effect.
	Append(ctx context.Context, jobID string, ev models.Event) (int64, error)

	// ReadSince returns all events with sequence >= since, in order.
	// Safe to call concurrently with Append: a reader never observes
	// a gap or a duplicate.
	ReadSince(ctx context.Context, jobID string, since int64) ([]models.Event, error)

	// Phase returns the job's current external phase.
	Phase(ctx context.Context, jobID string) (models.JobPhase, error)

	// ListActive returns all jobs not yet in a terminal phase.
	ListActive(ctx context.Context) ([]models.JobStatus, error)

	// MarkTerminal switches the job's records to the shorter
	// post-completion TTL and drops it from the active listing.
	MarkTerminal(ctx context.Context, jobID string) error
}
