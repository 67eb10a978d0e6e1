package models

// Capacity is the derived capacity snapshot for the host. It is
// recomputed from live host state on every query, never cached.
type Capacity struct {
	MaxInstances    int   `json:"max_instances"`
	ActiveInstances int   `json:"active_instances"`
	CanCreate       bool  `json:"can_create"`
	TotalMemoryMB   int64 `json:"total_memory_mb"`
	ReservedMB      int64 `json:"reserved_mb"`
	PerInstanceMB   int64 `json:"per_instance_mb"`
	CPUs            int   `json:"cpus"`
}
