// Package reaper removes instances that have outlived their retention
// window. It runs a periodic sweep over every managed container and
// deletes the ones whose age crosses the configured maximum.
package reaper

import (
	"context"
	"log"
	"time"

	"github.com/roost-sh/roost/internal/instance"
	"github.com/roost-sh/roost/models"
)

// Reaper periodically deletes instances older than MaxAgeDays.
type Reaper struct {
	instances *instance.Manager
	maxAge    int
	interval  time.Duration
	ticker    *time.Ticker
	stop      chan bool
	running   bool
}

// SweepResult summarizes one pass over the managed instances.
type SweepResult struct {
	Checked int      `json:"checked"`
	Deleted []string `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

// New creates a reaper that sweeps every interval and deletes
// instances older than maxAgeDays.
func New(instances *instance.Manager, maxAgeDays int, interval time.Duration) *Reaper {
	return &Reaper{
		instances: instances,
		maxAge:    maxAgeDays,
		interval:  interval,
		stop:      make(chan bool),
		running:   false,
	}
}

// Start begins the sweep loop
func (r *Reaper) Start() {
	if r.running {
		log.Println("Reaper already running")
		return
	}

	r.running = true
	r.ticker = time.NewTicker(r.interval)

	log.Printf("Reaper started - sweeping every %s, max instance age %d days", r.interval, r.maxAge)

	go func() {
		// Sweep immediately on start
		r.sweepAndLog()

		for {
			select {
			case <-r.ticker.C:
				r.sweepAndLog()
			case <-r.stop:
				r.ticker.Stop()
				r.running = false
				log.Println("Reaper stopped")
				return
			}
		}
	}()
}

// Stop halts the reaper
func (r *Reaper) Stop() {
	if r.running {
		r.stop <- true
	}
}

func (r *Reaper) sweepAndLog() {
	result, err := r.Sweep(context.Background())
	if err != nil {
		log.Printf("Reaper: sweep failed: %v", err)
		return
	}
	if len(result.Deleted) > 0 || len(result.Errors) > 0 {
		log.Printf("Reaper: checked %d instance(s), deleted %d, %d error(s)",
			result.Checked, len(result.Deleted), len(result.Errors))
	}
}

// Sweep deletes every instance older than the maximum age. A failure
// on one instance is recorded and the sweep moves on to the next.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	instances, err := r.instances.List(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Checked: len(instances), Deleted: []string{}}
	for _, inst := range instances {
		if inst.AgeDays < r.maxAge {
			continue
		}

		log.Printf("Reaper: deleting %s (age %d days, max %d)", inst.Tenant, inst.AgeDays, r.maxAge)
		if err := r.instances.Remove(ctx, inst.Tenant); err != nil {
			log.Printf("Reaper: failed to delete %s: %v", inst.Tenant, err)
			result.Errors = append(result.Errors, inst.Tenant+": "+err.Error())
			continue
		}
		result.Deleted = append(result.Deleted, inst.Tenant)
	}

	return result, nil
}

// Preview reports what the next sweep would do without deleting
// anything.
func (r *Reaper) Preview(ctx context.Context) ([]models.CleanupCandidate, error) {
	instances, err := r.instances.List(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.CleanupCandidate, 0, len(instances))
	for _, inst := range instances {
		remaining := r.maxAge - inst.AgeDays
		if remaining < 0 {
			remaining = 0
		}
		candidates = append(candidates, models.CleanupCandidate{
			Tenant:        inst.Tenant,
			AgeDays:       inst.AgeDays,
			DaysRemaining: remaining,
			WillBeDeleted: inst.AgeDays >= r.maxAge,
		})
	}
	return candidates, nil
}
