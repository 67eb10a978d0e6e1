package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-sh/roost/internal/capacity"
	"github.com/roost-sh/roost/internal/instance"
	"github.com/roost-sh/roost/internal/runtime"
)

func testManager(fake *runtime.Fake) *instance.Manager {
	return instance.NewManager(fake, instance.Config{
		Image:         "registry.example.com/roost/workspace",
		BaseDomain:    "apps.example.com",
		Network:       "roost-public",
		Port:          8080,
		DataDir:       "/data",
		Timezone:      "UTC",
		MemoryLimitMB: 384,
	}, capacity.Reservation{})
}

func seedInstance(t *testing.T, m *instance.Manager, tenant string, ageDays int) {
	t.Helper()
	created := time.Now().UTC().AddDate(0, 0, -ageDays)
	_, err := m.CreateContainer(context.Background(), tenant, "1.0.0", "key-"+tenant, created)
	require.NoError(t, err)
}

func TestSweepDeletesExpiredInstances(t *testing.T) {
	fake := runtime.NewFake()
	m := testManager(fake)
	seedInstance(t, m, "young", 3)
	seedInstance(t, m, "atlimit", 5)
	seedInstance(t, m, "old", 6)

	r := New(m, 5, time.Hour)
	result, err := r.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Checked)
	assert.ElementsMatch(t, []string{"atlimit", "old"}, result.Deleted)
	assert.Empty(t, result.Errors)

	assert.NotNil(t, fake.Container("roost-young"))
	assert.Nil(t, fake.Container("roost-atlimit"))
	assert.Nil(t, fake.Container("roost-old"))

	// Data volumes go with the container.
	assert.True(t, fake.HasVolume("roost-data-young"))
	assert.False(t, fake.HasVolume("roost-data-old"))
}

func TestSweepContinuesPastFailures(t *testing.T) {
	fake := runtime.NewFake()
	m := testManager(fake)
	seedInstance(t, m, "alpha", 10)
	seedInstance(t, m, "beta", 10)

	fake.RemoveErr = assert.AnError
	r := New(m, 5, time.Hour)
	result, err := r.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Checked)
	assert.Empty(t, result.Deleted)
	assert.Len(t, result.Errors, 2, "each failed delete is recorded")
}

func TestSweepEmptyHost(t *testing.T) {
	r := New(testManager(runtime.NewFake()), 5, time.Hour)
	result, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Checked)
	assert.Empty(t, result.Deleted)
}

func TestPreviewReportsWithoutDeleting(t *testing.T) {
	fake := runtime.NewFake()
	m := testManager(fake)
	seedInstance(t, m, "young", 2)
	seedInstance(t, m, "old", 7)

	r := New(m, 5, time.Hour)
	candidates, err := r.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	byTenant := map[string]bool{}
	for _, c := range candidates {
		byTenant[c.Tenant] = c.WillBeDeleted
		switch c.Tenant {
		case "young":
			assert.Equal(t, 2, c.AgeDays)
			assert.Equal(t, 3, c.DaysRemaining)
		case "old":
			assert.Equal(t, 7, c.AgeDays)
			assert.Equal(t, 0, c.DaysRemaining)
		}
	}
	assert.False(t, byTenant["young"])
	assert.True(t, byTenant["old"])

	assert.NotNil(t, fake.Container("roost-old"), "preview must not delete")
}

func TestStartAndStop(t *testing.T) {
	r := New(testManager(runtime.NewFake()), 5, 10*time.Millisecond)
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}
