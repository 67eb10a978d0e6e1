// Package infra brings up the companion services the platform needs on
// a host: the shared Docker network, a Redis for job state and a
// RabbitMQ broker for the work queue.
package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"github.com/roost-sh/roost/internal/runtime"
)

// Config names the infrastructure pieces to ensure.
type Config struct {
	Network     string
	RedisImage  string
	RedisName   string
	RabbitImage string
	RabbitName  string
	RabbitUser  string
	RabbitPass  string
}

// Defaults returns the standard single-host layout.
func Defaults(networkName string) Config {
	return Config{
		Network:     networkName,
		RedisImage:  "redis:7-alpine",
		RedisName:   "roost-redis",
		RabbitImage: "rabbitmq:3-management-alpine",
		RabbitName:  "roost-rabbitmq",
		RabbitUser:  "roost",
		RabbitPass:  "roost",
	}
}

// Bootstrap ensures companion services exist and are running.
type Bootstrap struct {
	docker runtime.Client
	cfg    Config
}

func New(docker runtime.Client, cfg Config) *Bootstrap {
	return &Bootstrap{docker: docker, cfg: cfg}
}

// Ensure creates whatever is missing. Each step is independent; a
// failure is collected and the remaining steps still run, so a broken
// broker does not block Redis from coming up.
func (b *Bootstrap) Ensure(ctx context.Context) error {
	var errs []error

	if err := b.ensureNetwork(ctx); err != nil {
		errs = append(errs, fmt.Errorf("network %s: %w", b.cfg.Network, err))
	}
	if err := b.ensureContainer(ctx, b.cfg.RedisName, b.cfg.RedisImage, nil, []string{"6379"}); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	if err := b.ensureContainer(ctx, b.cfg.RabbitName, b.cfg.RabbitImage, []string{
		"RABBITMQ_DEFAULT_USER=" + b.cfg.RabbitUser,
		"RABBITMQ_DEFAULT_PASS=" + b.cfg.RabbitPass,
	}, []string{"5672", "15672"}); err != nil {
		errs = append(errs, fmt.Errorf("rabbitmq: %w", err))
	}

	return errors.Join(errs...)
}

func (b *Bootstrap) ensureNetwork(ctx context.Context) error {
	if _, err := b.docker.NetworkInspect(ctx, b.cfg.Network, network.InspectOptions{}); err == nil {
		return nil
	} else if !runtime.IsNotFound(err) {
		return err
	}

	log.Printf("Bootstrap: creating network %s", b.cfg.Network)
	_, err := b.docker.NetworkCreate(ctx, b.cfg.Network, network.CreateOptions{Driver: "bridge"})
	return err
}

// ensureContainer publishes each port 1:1 on the host: the rest of the
// process reaches these services over localhost, so a container
// without the host bindings is unreachable and gets recreated.
func (b *Bootstrap) ensureContainer(ctx context.Context, name, imageRef string, env, ports []string) error {
	existing, err := b.docker.ContainerInspect(ctx, name)
	switch {
	case err == nil && hasHostPorts(existing, ports):
		if existing.State != nil && existing.State.Running {
			return nil
		}
		log.Printf("Bootstrap: starting stopped container %s", name)
		return b.docker.ContainerStart(ctx, name, container.StartOptions{})
	case err == nil:
		log.Printf("Bootstrap: recreating %s with host port bindings", name)
		if err := b.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	case !runtime.IsNotFound(err):
		return err
	}

	log.Printf("Bootstrap: creating %s from %s", name, imageRef)
	reader, err := b.docker.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", imageRef, err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	exposed, bindings := hostPorts(ports)
	created, err := b.docker.ContainerCreate(ctx,
		&container.Config{Image: imageRef, Env: env, ExposedPorts: exposed},
		&container.HostConfig{
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
			PortBindings:  bindings,
		},
		&network.NetworkingConfig{EndpointsConfig: map[string]*network.EndpointSettings{
			b.cfg.Network: {},
		}},
		nil, name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	return b.docker.ContainerStart(ctx, created.ID, container.StartOptions{})
}

// hostPorts builds the exposed set and 1:1 host bindings for TCP ports.
func hostPorts(ports []string) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port := nat.Port(p + "/tcp")
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: p}}
	}
	return exposed, bindings
}

// hasHostPorts reports whether a container already binds every wanted
// port on the host.
func hasHostPorts(inspect container.InspectResponse, ports []string) bool {
	if inspect.HostConfig == nil {
		return false
	}
	for _, p := range ports {
		bound := false
		for _, binding := range inspect.HostConfig.PortBindings[nat.Port(p+"/tcp")] {
			if binding.HostPort == p {
				bound = true
				break
			}
		}
		if !bound {
			return false
		}
	}
	return true
}
