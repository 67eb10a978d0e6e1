package api

import (
	"github.com/roost-sh/roost/models"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	Tenant  string `json:"tenant,omitempty"`
}

// CreateInstanceRequest is the body of POST /api/v1/instances.
type CreateInstanceRequest struct {
	Name    string `json:"name" validate:"required,tenant"`
	Version string `json:"version" validate:"omitempty,instance_version"`
}

// JobAcceptedResponse is returned when a provisioning job is queued.
type JobAcceptedResponse struct {
	JobID   string `json:"job_id"`
	Tenant  string `json:"tenant"`
	Version string `json:"version"`
	URL     string `json:"url"`
}

// JobEventsResponse carries events since a client's last read plus the
// job's current phase, so pollers know when to stop.
type JobEventsResponse struct {
	JobID  string          `json:"job_id"`
	Phase  models.JobPhase `json:"phase"`
	Events []models.Event  `json:"events"`
	Next   int64           `json:"next"`
}

// JobsResponse represents the set of jobs still in flight.
type JobsResponse struct {
	Count int                `json:"count"`
	Jobs  []models.JobStatus `json:"jobs"`
}

// InstancesResponse represents a list of instances.
type InstancesResponse struct {
	Count     int               `json:"count"`
	Instances []models.Instance `json:"instances"`
}

// VersionsResponse is the catalog of versions clients may request.
type VersionsResponse struct {
	Versions []string `json:"versions"`
	Default  string   `json:"default"`
}

// CleanupPreviewResponse reports what the next retention sweep would do.
type CleanupPreviewResponse struct {
	MaxAgeDays int                       `json:"max_age_days"`
	Candidates []models.CleanupCandidate `json:"candidates"`
}

// UpdateVersionRequest is the body of PUT /api/v1/instances/:tenant/version.
type UpdateVersionRequest struct {
	Version string `json:"version" validate:"required,instance_version"`
}
