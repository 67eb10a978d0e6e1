package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-sh/roost/internal/runtime"
)

func TestEnsureCreatesEverything(t *testing.T) {
	fake := runtime.NewFake()
	b := New(fake, Defaults("roost-public"))

	require.NoError(t, b.Ensure(context.Background()))

	redis := fake.Container("roost-redis")
	require.NotNil(t, redis)
	assert.Equal(t, "running", redis.State)
	assert.Equal(t, "redis:7-alpine", redis.Config.Image)

	rabbit := fake.Container("roost-rabbitmq")
	require.NotNil(t, rabbit)
	assert.Contains(t, rabbit.Config.Env, "RABBITMQ_DEFAULT_USER=roost")
}

func TestEnsurePublishesServicePorts(t *testing.T) {
	fake := runtime.NewFake()
	b := New(fake, Defaults("roost-public"))

	require.NoError(t, b.Ensure(context.Background()))

	redis := fake.Container("roost-redis")
	require.NotNil(t, redis)
	require.NotNil(t, redis.Host)
	bindings := redis.Host.PortBindings[nat.Port("6379/tcp")]
	require.Len(t, bindings, 1)
	assert.Equal(t, "6379", bindings[0].HostPort)
	assert.Contains(t, redis.Config.ExposedPorts, nat.Port("6379/tcp"))

	rabbit := fake.Container("roost-rabbitmq")
	require.NotNil(t, rabbit)
	for _, port := range []string{"5672", "15672"} {
		bindings := rabbit.Host.PortBindings[nat.Port(port+"/tcp")]
		require.Len(t, bindings, 1, port)
		assert.Equal(t, port, bindings[0].HostPort)
	}
}

func TestEnsureRecreatesContainerWithoutHostPorts(t *testing.T) {
	fake := runtime.NewFake()

	// A leftover redis attached to the network but never published.
	_, err := fake.ContainerCreate(context.Background(),
		&container.Config{Image: "redis:7-alpine"},
		&container.HostConfig{},
		nil, nil, "roost-redis")
	require.NoError(t, err)
	require.NoError(t, fake.ContainerStart(context.Background(), "roost-redis", container.StartOptions{}))
	unbound := fake.Container("roost-redis").ID

	b := New(fake, Defaults("roost-public"))
	require.NoError(t, b.Ensure(context.Background()))

	redis := fake.Container("roost-redis")
	require.NotNil(t, redis)
	assert.NotEqual(t, unbound, redis.ID, "unreachable container must be replaced")
	assert.Equal(t, "running", redis.State)
	assert.NotEmpty(t, redis.Host.PortBindings[nat.Port("6379/tcp")])
}

func TestEnsureIsIdempotent(t *testing.T) {
	fake := runtime.NewFake()
	b := New(fake, Defaults("roost-public"))

	require.NoError(t, b.Ensure(context.Background()))
	pulls := len(fake.Pulled())
	require.NoError(t, b.Ensure(context.Background()))

	assert.Equal(t, pulls, len(fake.Pulled()), "second run must not pull again")
}

func TestEnsureRestartsStoppedContainer(t *testing.T) {
	fake := runtime.NewFake()
	b := New(fake, Defaults("roost-public"))

	require.NoError(t, b.Ensure(context.Background()))
	fake.SetState("roost-redis", "exited")

	require.NoError(t, b.Ensure(context.Background()))
	assert.Equal(t, "running", fake.Container("roost-redis").State)
}

func TestEnsureCollectsStepFailures(t *testing.T) {
	fake := runtime.NewFake()
	fake.PullErr = errors.New("registry unreachable")
	b := New(fake, Defaults("roost-public"))

	err := b.Ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "rabbitmq")

	// The network step does not depend on the registry.
	_, nerr := fake.NetworkInspect(context.Background(), "roost-public", network.InspectOptions{})
	assert.NoError(t, nerr)
}
