// Package provision drives one provisioning job from dequeue to a
// terminal state: pull the image, create and start the tenant
// container, poll for application health, and record one event per
// transition in the event store.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/roost-sh/roost/internal/events"
	"github.com/roost-sh/roost/internal/instance"
	"github.com/roost-sh/roost/models"
)

// Config bounds the health-check phase of a job.
type Config struct {
	// PollInterval is the delay between health probes.
	PollInterval time.Duration

	// HealthTimeout bounds the whole awaiting_health phase. On
	// expiry the job fails but the container is left running; the
	// app may still come up later.
	HealthTimeout time.Duration

	// ProbeTimeout bounds a single HTTP probe.
	ProbeTimeout time.Duration

	// HealthURL overrides the probed URL per tenant. Defaults to the
	// instance's public URL through the reverse proxy.
	HealthURL func(tenant string) string
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 3 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// Controller executes provisioning jobs. It is the single writer of
// job state: every transition becomes exactly one event, and failures
// become the job's terminal error event instead of propagating out.
type Controller struct {
	instances *instance.Manager
	store     events.Store
	client    *http.Client
	cfg       Config
}

// NewController creates a Controller over the instance manager and
// event store.
func NewController(instances *instance.Manager, store events.Store, cfg Config) *Controller {
	cfg.applyDefaults()
	if cfg.HealthURL == nil {
		cfg.HealthURL = instances.URL
	}
	return &Controller{
		instances: instances,
		store:     store,
		client:    &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:       cfg,
	}
}

// Run executes one job to a terminal state. It never returns an
// error: all failures are converted into the job's terminal error
// event so the worker loop stays alive.
func (c *Controller) Run(ctx context.Context, job models.Job) {
	log.Printf("job %s: provisioning tenant %q version %s", job.ID, job.Tenant, job.Version)

	c.emit(ctx, job.ID, models.Event{
		Status:   models.StagePulling,
		Progress: 5,
		Message:  fmt.Sprintf("provisioning %s: pulling image (version %s)", job.Tenant, job.Version),
	})
	if err := c.instances.PullImage(ctx, job.Version); err != nil {
		c.fail(ctx, job, 5, fmt.Sprintf("image pull failed: %v", err))
		return
	}

	c.emit(ctx, job.ID, models.Event{
		Status:   models.StageCreating,
		Progress: 30,
		Message:  "image ready, creating container",
	})
	if _, err := c.ensureContainer(ctx, job); err != nil {
		c.fail(ctx, job, 30, fmt.Sprintf("container creation failed: %v", err))
		return
	}

	c.emit(ctx, job.ID, models.Event{
		Status:   models.StageAwaiting,
		Progress: 60,
		Message:  "container started, waiting for the application",
	})
	url := c.cfg.HealthURL(job.Tenant)
	if progress, err := c.awaitHealthy(ctx, job, url); err != nil {
		c.fail(ctx, job, progress, err.Error())
		return
	}

	c.emit(ctx, job.ID, models.Event{
		Status:   models.StageComplete,
		Progress: 100,
		Message:  "instance is ready",
		URL:      c.instances.URL(job.Tenant),
	})
	c.finish(ctx, job.ID)
	log.Printf("job %s: tenant %q provisioned", job.ID, job.Tenant)
}

// ensureContainer creates the tenant container, reusing the identity
// of a leftover container from an interrupted earlier run: same
// encryption key, same creation label, same data volume. This makes
// broker redelivery of an unacked job safe.
func (c *Controller) ensureContainer(ctx context.Context, job models.Job) (string, error) {
	info, err := c.instances.FindByTenant(ctx, job.Tenant)
	switch {
	case err == nil:
		key := instance.EncryptionKeyFrom(info)
		if key == "" {
			key = instance.GenerateEncryptionKey()
		}
		created := instance.CreatedAtFrom(info)
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if err := c.instances.RemoveContainerOnly(ctx, job.Tenant); err != nil && !errors.Is(err, instance.ErrNotFound) {
			return "", err
		}
		log.Printf("job %s: replacing existing container for %q", job.ID, job.Tenant)
		return c.instances.CreateContainer(ctx, job.Tenant, job.Version, key, created)

	case errors.Is(err, instance.ErrNotFound):
		return c.instances.CreateContainer(ctx, job.Tenant, job.Version,
			instance.GenerateEncryptionKey(), time.Now().UTC())

	default:
		return "", err
	}
}

// awaitHealthy polls the instance URL until any HTTP response arrives
// or the timeout expires. Transport errors (connection refused, reset,
// TLS not yet issued) are expected while the app boots and are
// swallowed. Any status code counts as healthy, 404 included: the
// proxy answering at all means the instance is routable.
func (c *Controller) awaitHealthy(ctx context.Context, job models.Job, url string) (int, error) {
	start := time.Now()
	deadline := start.Add(c.cfg.HealthTimeout)
	milestones := []struct {
		after    time.Duration
		progress int
	}{
		{c.cfg.HealthTimeout / 3, 70},
		{2 * c.cfg.HealthTimeout / 3, 85},
	}

	// Last progress reported to the store; a failure keeps it instead
	// of snapping the job status back to zero.
	progress := 60

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return progress, fmt.Errorf("health check canceled: %v", ctx.Err())
		case <-ticker.C:
		}

		if info, err := c.instances.FindByTenant(ctx, job.Tenant); err == nil &&
			info.State != nil && info.State.Status == "exited" {
			return progress, fmt.Errorf("container for %s stopped during startup", job.Tenant)
		}

		if c.probe(ctx, url) {
			return progress, nil
		}

		elapsed := time.Since(start)
		if time.Now().After(deadline) {
			return progress, fmt.Errorf("timeout: instance did not respond within %s", c.cfg.HealthTimeout)
		}
		if len(milestones) > 0 && elapsed >= milestones[0].after {
			progress = milestones[0].progress
			c.emit(ctx, job.ID, models.Event{
				Status:   models.StageAwaiting,
				Progress: progress,
				Message:  fmt.Sprintf("still waiting for the application (%ds elapsed)", int(elapsed.Seconds())),
			})
			milestones = milestones[1:]
		}
	}
}

func (c *Controller) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// fail records the job's terminal error event. It carries the last
// reported progress so the status snapshot does not snap back to
// zero. No events follow it.
func (c *Controller) fail(ctx context.Context, job models.Job, progress int, message string) {
	log.Printf("job %s: failed: %s", job.ID, message)
	c.emit(ctx, job.ID, models.Event{Status: models.StageError, Progress: progress, Message: message})
	c.finish(ctx, job.ID)
}

// emit appends one event. Store failures degrade observability only:
// they are logged and the job keeps running, because the container
// side of the transition already happened.
func (c *Controller) emit(ctx context.Context, jobID string, ev models.Event) {
	ev.Time = time.Now().UTC()
	if _, err := c.store.Append(ctx, jobID, ev); err != nil {
		log.Printf("job %s: event append failed (continuing): %v", jobID, err)
	}
}

func (c *Controller) finish(ctx context.Context, jobID string) {
	if err := c.store.MarkTerminal(ctx, jobID); err != nil {
		log.Printf("job %s: terminal TTL update failed: %v", jobID, err)
	}
}
