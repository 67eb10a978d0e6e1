package instance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-sh/roost/internal/capacity"
	"github.com/roost-sh/roost/internal/runtime"
)

func testConfig() Config {
	return Config{
		Image:               "registry.example.com/roost/workspace",
		BaseDomain:          "apps.example.com",
		SSLEnabled:          true,
		CertResolver:        "letsencrypt",
		Network:             "roost-public",
		Port:                8080,
		DataDir:             "/data",
		Timezone:            "UTC",
		MemoryLimitMB:       384,
		MemoryReservationMB: 192,
		CPUShares:           512,
	}
}

func testReservation() capacity.Reservation {
	return capacity.Reservation{ProxyMB: 50, EventStoreMB: 100, BrokerMB: 150, SystemMB: 468}
}

func newTestManager() (*Manager, *runtime.Fake) {
	fake := runtime.NewFake()
	return NewManager(fake, testConfig(), testReservation()), fake
}

func TestCreateContainer(t *testing.T) {
	m, fake := newTestManager()
	ctx := context.Background()
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	id, err := m.CreateContainer(ctx, "acme", "1.0.0", "secret-key", created)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	c := fake.Container("roost-acme")
	require.NotNil(t, c)
	assert.Equal(t, "running", c.State)
	assert.Equal(t, "registry.example.com/roost/workspace:1.0.0", c.Config.Image)

	assert.Equal(t, "true", c.Config.Labels[LabelManaged])
	assert.Equal(t, "acme", c.Config.Labels[LabelTenant])
	assert.Equal(t, "2026-08-01T12:00:00Z", c.Config.Labels[LabelCreatedAt])
	assert.Equal(t, "Host(`acme.apps.example.com`)",
		c.Config.Labels["traefik.http.routers.roost-acme.rule"])
	assert.Equal(t, "8080",
		c.Config.Labels["traefik.http.services.roost-acme.loadbalancer.server.port"])
	assert.Equal(t, "websecure",
		c.Config.Labels["traefik.http.routers.roost-acme.entrypoints"])
	assert.Equal(t, "letsencrypt",
		c.Config.Labels["traefik.http.routers.roost-acme.tls.certresolver"])

	assert.Contains(t, c.Config.Env, "APP_ENCRYPTION_KEY=secret-key")
	assert.Contains(t, c.Config.Env, "TZ=UTC")

	assert.Equal(t, int64(384*1024*1024), c.Host.Resources.Memory)
	assert.Equal(t, int64(192*1024*1024), c.Host.Resources.MemoryReservation)
	assert.Equal(t, int64(512), c.Host.Resources.CPUShares)

	assert.True(t, fake.HasVolume("roost-data-acme"))
}

func TestCreateContainerStartFailureCleansUp(t *testing.T) {
	m, fake := newTestManager()
	fake.StartErr = errors.New("cgroup error")

	_, err := m.CreateContainer(context.Background(), "acme", "1.0.0", "k", time.Now())
	require.Error(t, err)
	// A container that never started must not linger and block the
	// name for the next attempt.
	assert.Nil(t, fake.Container("roost-acme"))
}

func TestFindByTenant(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.FindByTenant(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.CreateContainer(ctx, "acme", "1.0.0", "k", time.Now())
	require.NoError(t, err)

	info, err := m.FindByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "/roost-acme", info.Name)
}

func TestRemoveDeletesContainerAndVolume(t *testing.T) {
	m, fake := newTestManager()
	ctx := context.Background()
	_, err := m.CreateContainer(ctx, "acme", "1.0.0", "k", time.Now())
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "acme"))
	assert.Nil(t, fake.Container("roost-acme"))
	assert.False(t, fake.HasVolume("roost-data-acme"))

	assert.ErrorIs(t, m.Remove(ctx, "acme"), ErrNotFound)
}

func TestRemoveToleratesVolumeFailure(t *testing.T) {
	m, fake := newTestManager()
	ctx := context.Background()
	_, err := m.CreateContainer(ctx, "acme", "1.0.0", "k", time.Now())
	require.NoError(t, err)

	fake.VolumeRemoveErr = errors.New("volume busy")
	// Container removal succeeded; the sweep must not fail on the
	// orphaned volume.
	assert.NoError(t, m.Remove(ctx, "acme"))
	assert.Nil(t, fake.Container("roost-acme"))
}

func TestListComputesAges(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now().UTC()

	for tenant, age := range map[string]int{"old": 6, "mid": 3, "new": 0} {
		_, err := m.CreateContainer(ctx, tenant, "1.0.0", "k", now.AddDate(0, 0, -age))
		require.NoError(t, err)
	}

	instances, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 3)

	byTenant := map[string]int{}
	for _, inst := range instances {
		byTenant[inst.Tenant] = inst.AgeDays
		assert.Equal(t, "1.0.0", inst.Version)
		assert.True(t, strings.HasPrefix(inst.URL, "https://"+inst.Tenant+"."))
	}
	assert.Equal(t, 6, byTenant["old"])
	assert.Equal(t, 3, byTenant["mid"])
	assert.Equal(t, 0, byTenant["new"])
}

func TestUpdateVersionPreservesEnvAndLabels(t *testing.T) {
	m, fake := newTestManager()
	ctx := context.Background()
	created := time.Now().UTC().AddDate(0, 0, -2)
	_, err := m.CreateContainer(ctx, "acme", "1.0.0", "original-key", created)
	require.NoError(t, err)

	_, err = m.UpdateVersion(ctx, "acme", "1.1.0")
	require.NoError(t, err)

	c := fake.Container("roost-acme")
	require.NotNil(t, c)
	assert.Equal(t, "registry.example.com/roost/workspace:1.1.0", c.Config.Image)
	assert.Contains(t, c.Config.Env, "APP_ENCRYPTION_KEY=original-key")
	assert.Equal(t, created.Format(time.RFC3339), c.Config.Labels[LabelCreatedAt])
	// Data volume survives the recreate.
	assert.True(t, fake.HasVolume("roost-data-acme"))
}

func TestResetGeneratesFreshKey(t *testing.T) {
	m, fake := newTestManager()
	ctx := context.Background()
	_, err := m.CreateContainer(ctx, "acme", "1.0.0", "original-key", time.Now())
	require.NoError(t, err)

	_, err = m.Reset(ctx, "acme", "1.0.0")
	require.NoError(t, err)

	c := fake.Container("roost-acme")
	require.NotNil(t, c)
	assert.NotContains(t, c.Config.Env, "APP_ENCRYPTION_KEY=original-key")

	_, err = m.Reset(ctx, "ghost", "1.0.0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEncryptionKeyFrom(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	_, err := m.CreateContainer(ctx, "acme", "1.0.0", "the-key", time.Now())
	require.NoError(t, err)

	info, err := m.FindByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "the-key", EncryptionKeyFrom(info))
}

func TestCapacity(t *testing.T) {
	m, fake := newTestManager()
	ctx := context.Background()
	fake.InfoResult.MemTotal = 8 * 1024 * 1024 * 1024

	_, err := m.CreateContainer(ctx, "acme", "1.0.0", "k", time.Now())
	require.NoError(t, err)
	_, err = m.CreateContainer(ctx, "globex", "1.0.0", "k", time.Now())
	require.NoError(t, err)
	fake.SetState("roost-globex", "exited")

	snap, err := m.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), snap.TotalMemoryMB)
	assert.Equal(t, 19, snap.MaxInstances)
	assert.Equal(t, 1, snap.ActiveInstances, "only running containers count")
	assert.True(t, snap.CanCreate)
}
