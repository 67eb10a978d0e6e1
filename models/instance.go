package models

import "time"

// Instance describes one tenant's running container as observed on
// the host. The container itself is the source of truth; this struct
// is assembled from its labels and inspect data on every read.
type Instance struct {
	Tenant      string     `json:"tenant"`
	Status      string     `json:"status"`
	URL         string     `json:"url"`
	Version     string     `json:"version"`
	ContainerID string     `json:"container_id"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	AgeDays     int        `json:"age_days"`
}

// CleanupCandidate is one row of the reaper's dry-run preview.
type CleanupCandidate struct {
	Tenant        string `json:"tenant"`
	AgeDays       int    `json:"age_days"`
	DaysRemaining int    `json:"days_remaining"`
	WillBeDeleted bool   `json:"will_be_deleted"`
}
