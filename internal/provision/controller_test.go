package provision

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-sh/roost/internal/capacity"
	"github.com/roost-sh/roost/internal/events"
	"github.com/roost-sh/roost/internal/instance"
	"github.com/roost-sh/roost/internal/runtime"
	"github.com/roost-sh/roost/models"
)

type fixture struct {
	controller *Controller
	manager    *instance.Manager
	fake       *runtime.Fake
	store      events.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := events.NewRedisStore(rdb, 10*time.Minute, 5*time.Minute)

	fake := runtime.NewFake()
	manager := instance.NewManager(fake, instance.Config{
		Image:         "registry.example.com/roost/workspace",
		BaseDomain:    "apps.example.com",
		SSLEnabled:    true,
		CertResolver:  "letsencrypt",
		Network:       "roost-public",
		Port:          8080,
		DataDir:       "/data",
		Timezone:      "UTC",
		MemoryLimitMB: 384,
		CPUShares:     512,
	}, capacity.Reservation{SystemMB: 768})

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 2 * time.Second
	}
	return &fixture{
		controller: NewController(manager, store, cfg),
		manager:    manager,
		fake:       fake,
		store:      store,
	}
}

func registeredJob(t *testing.T, store events.Store, tenant string) models.Job {
	t.Helper()
	job := models.Job{ID: "job-" + tenant, Tenant: tenant, Version: "1.0.0", Created: time.Now()}
	require.NoError(t, store.Register(context.Background(), job))
	return job
}

func TestRunProvisionsTenant(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	f := newFixture(t, Config{HealthURL: func(string) string { return ts.URL }})
	ctx := context.Background()
	job := registeredJob(t, f.store, "acme")

	f.controller.Run(ctx, job)

	got, err := f.store.ReadSince(ctx, job.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	// Sequences are exactly 0..n with monotonically increasing progress.
	lastProgress := -1
	for i, ev := range got {
		assert.Equal(t, int64(i), ev.Sequence)
		assert.GreaterOrEqual(t, ev.Progress, lastProgress)
		lastProgress = ev.Progress
	}

	final := got[len(got)-1]
	assert.Equal(t, models.StageComplete, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Contains(t, final.URL, "acme")

	phase, err := f.store.Phase(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, phase)

	c := f.fake.Container("roost-acme")
	require.NotNil(t, c)
	assert.Equal(t, "running", c.State)
}

// A 404 is a response, and any response means the app is listening.
// This matches observed proxy behavior and must stay permissive.
func TestRunTreats404AsHealthy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	f := newFixture(t, Config{HealthURL: func(string) string { return ts.URL }})
	ctx := context.Background()
	job := registeredJob(t, f.store, "acme")

	f.controller.Run(ctx, job)

	phase, err := f.store.Phase(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, phase)
}

func TestRunHealthTimeout(t *testing.T) {
	f := newFixture(t, Config{
		PollInterval:  10 * time.Millisecond,
		HealthTimeout: 100 * time.Millisecond,
		// Nothing listens on port 1; every probe is refused.
		HealthURL: func(string) string { return "http://127.0.0.1:1" },
	})
	ctx := context.Background()
	job := registeredJob(t, f.store, "acme")

	f.controller.Run(ctx, job)

	got, err := f.store.ReadSince(ctx, job.ID, 0)
	require.NoError(t, err)
	final := got[len(got)-1]
	assert.Equal(t, models.StageError, final.Status)
	assert.Contains(t, final.Message, "timeout")
	assert.GreaterOrEqual(t, final.Progress, 60,
		"error event keeps the last reported progress")

	status, err := f.store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, status, "failed job must leave the active set")

	// The container stays up; the app may still come up later.
	c := f.fake.Container("roost-acme")
	require.NotNil(t, c)
	assert.Equal(t, "running", c.State)

	phase, err := f.store.Phase(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobError, phase)
}

func TestRunDetectsExitedContainer(t *testing.T) {
	f := newFixture(t, Config{
		PollInterval:  10 * time.Millisecond,
		HealthTimeout: 5 * time.Second,
		HealthURL:     func(string) string { return "http://127.0.0.1:1" },
	})
	ctx := context.Background()
	job := registeredJob(t, f.store, "acme")

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.fake.SetState("roost-acme", "exited")
	}()

	done := make(chan struct{})
	go func() {
		f.controller.Run(ctx, job)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not notice the exited container")
	}

	got, err := f.store.ReadSince(ctx, job.ID, 0)
	require.NoError(t, err)
	final := got[len(got)-1]
	assert.Equal(t, models.StageError, final.Status)
	assert.Contains(t, final.Message, "stopped")
}

func TestRunImagePullFailure(t *testing.T) {
	f := newFixture(t, Config{HealthURL: func(string) string { return "http://127.0.0.1:1" }})
	f.fake.PullErr = errors.New("manifest unknown")
	ctx := context.Background()
	job := registeredJob(t, f.store, "acme")

	f.controller.Run(ctx, job)

	got, err := f.store.ReadSince(ctx, job.ID, 0)
	require.NoError(t, err)
	final := got[len(got)-1]
	assert.Equal(t, models.StageError, final.Status)
	assert.Contains(t, final.Message, "image pull failed")
	assert.Equal(t, 5, final.Progress)
	assert.Nil(t, f.fake.Container("roost-acme"), "no container after pull failure")
}

func TestRunContainerCreateFailure(t *testing.T) {
	f := newFixture(t, Config{HealthURL: func(string) string { return "http://127.0.0.1:1" }})
	f.fake.CreateErr = errors.New("no such network")
	ctx := context.Background()
	job := registeredJob(t, f.store, "acme")

	f.controller.Run(ctx, job)

	got, err := f.store.ReadSince(ctx, job.ID, 0)
	require.NoError(t, err)
	final := got[len(got)-1]
	assert.Equal(t, models.StageError, final.Status)
	assert.Contains(t, final.Message, "container creation failed")
	assert.Equal(t, 30, final.Progress)
}

// Re-running a job against a leftover container (broker redelivery
// after a worker crash) replaces it while keeping its encryption key
// and creation label. One container, not a divergent failure.
func TestRunIsIdempotentOverLeftoverContainer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	f := newFixture(t, Config{HealthURL: func(string) string { return ts.URL }})
	ctx := context.Background()
	created := time.Now().UTC().AddDate(0, 0, -1).Truncate(time.Second)
	_, err := f.manager.CreateContainer(ctx, "acme", "1.0.0", "original-key", created)
	require.NoError(t, err)

	job := registeredJob(t, f.store, "acme")
	f.controller.Run(ctx, job)

	phase, err := f.store.Phase(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, phase)

	c := f.fake.Container("roost-acme")
	require.NotNil(t, c)
	hasKey := false
	for _, e := range c.Config.Env {
		if e == "APP_ENCRYPTION_KEY=original-key" {
			hasKey = true
		}
	}
	assert.True(t, hasKey, "encryption key must be recovered, not regenerated")
	assert.Equal(t, created.Format(time.RFC3339), c.Config.Labels[instance.LabelCreatedAt])
}

// failingStore errors on every call; job execution must still reach a
// terminal container state without panicking.
type failingStore struct{}

func (failingStore) Register(context.Context, models.Job) error { return errors.New("store down") }
func (failingStore) Append(context.Context, string, models.Event) (int64, error) {
	return 0, errors.New("store down")
}
func (failingStore) ReadSince(context.Context, string, int64) ([]models.Event, error) {
	return nil, errors.New("store down")
}
func (failingStore) Phase(context.Context, string) (models.JobPhase, error) {
	return "", errors.New("store down")
}
func (failingStore) ListActive(context.Context) ([]models.JobStatus, error) {
	return nil, errors.New("store down")
}
func (failingStore) MarkTerminal(context.Context, string) error { return errors.New("store down") }

func TestRunSurvivesEventStoreOutage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	fake := runtime.NewFake()
	manager := instance.NewManager(fake, instance.Config{
		Image: "registry.example.com/roost/workspace", BaseDomain: "apps.example.com",
		Network: "roost-public", Port: 8080, DataDir: "/data", Timezone: "UTC",
		MemoryLimitMB: 384,
	}, capacity.Reservation{})
	ctrl := NewController(manager, failingStore{}, Config{
		PollInterval:  5 * time.Millisecond,
		HealthTimeout: 2 * time.Second,
		HealthURL:     func(string) string { return ts.URL },
	})

	ctrl.Run(context.Background(), models.Job{ID: "j1", Tenant: "acme", Version: "1.0.0"})

	c := fake.Container("roost-acme")
	require.NotNil(t, c, "provisioning must finish even with the store down")
	assert.Equal(t, "running", c.State)
}

func TestHealthURLDefaultsToInstanceURL(t *testing.T) {
	f := newFixture(t, Config{})
	url := f.controller.cfg.HealthURL("acme")
	assert.True(t, strings.HasPrefix(url, "https://acme.apps.example.com"), url)
}
