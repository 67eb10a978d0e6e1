package models

import "time"

// JobPhase is the externally visible state of a provisioning job.
type JobPhase string

const (
	JobPending  JobPhase = "pending"
	JobRunning  JobPhase = "running"
	JobComplete JobPhase = "complete"
	JobError    JobPhase = "error"
)

// Terminal reports whether the phase is a final state. Terminal jobs
// receive no further events.
func (p JobPhase) Terminal() bool {
	return p == JobComplete || p == JobError
}

// Job is one asynchronous provisioning request. The identifier is
// generated at enqueue time and never reused; the job itself lives in
// the event store until its TTL expires.
type Job struct {
	ID      string    `json:"job_id"`
	Tenant  string    `json:"tenant"`
	Version string    `json:"version"`
	Created time.Time `json:"created_at"`
}

// JobStatus is the dashboard view of a job: phase plus the latest
// progress snapshot.
type JobStatus struct {
	ID       string   `json:"job_id"`
	Tenant   string   `json:"tenant"`
	Version  string   `json:"version,omitempty"`
	Phase    JobPhase `json:"phase"`
	Progress int      `json:"progress"`
	Message  string   `json:"message,omitempty"`
}
