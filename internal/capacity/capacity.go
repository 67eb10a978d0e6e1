// Package capacity computes how many tenant instances the host can
// support from its total memory and the configured reservations.
//
// CPU is deliberately not part of the model: instances run with
// relative CPU weight (shares) rather than a hard quota, so memory is
// the only binding resource.
package capacity

import "github.com/roost-sh/roost/models"

// Reservation is the fixed infrastructure overhead withheld from host
// memory before dividing it among tenants. Each field is an operator
// tunable, in megabytes.
type Reservation struct {
	ProxyMB      int64
	EventStoreMB int64
	BrokerMB     int64
	SystemMB     int64
}

// Total returns the sum of all reserved overheads in megabytes.
func (r Reservation) Total() int64 {
	return r.ProxyMB + r.EventStoreMB + r.BrokerMB + r.SystemMB
}

// MaxInstances returns floor((total - reserved) / perInstance),
// clamped to a minimum of 0. perInstance must be positive; a
// non-positive ceiling yields 0 rather than dividing by zero.
func MaxInstances(totalMB, reservedMB, perInstanceMB int64) int {
	if perInstanceMB <= 0 {
		return 0
	}
	available := totalMB - reservedMB
	if available <= 0 {
		return 0
	}
	return int(available / perInstanceMB)
}

// Snapshot assembles a capacity view from current host memory and the
// current running-instance count. Host memory can change between
// calls (ballooning, memory pressure), so callers must invoke this
// per query instead of caching the result.
func Snapshot(totalBytes int64, cpus int, reserved Reservation, perInstanceMB int64, active int) models.Capacity {
	totalMB := totalBytes / (1024 * 1024)
	max := MaxInstances(totalMB, reserved.Total(), perInstanceMB)
	return models.Capacity{
		MaxInstances:    max,
		ActiveInstances: active,
		CanCreate:       active < max,
		TotalMemoryMB:   totalMB,
		ReservedMB:      reserved.Total(),
		PerInstanceMB:   perInstanceMB,
		CPUs:            cpus,
	}
}
