package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"

	"github.com/roost-sh/roost/internal/capacity"
	"github.com/roost-sh/roost/internal/runtime"
	"github.com/roost-sh/roost/models"
)

// ErrNotFound means no container exists for the tenant.
var ErrNotFound = errors.New("instance not found")

// Manager performs all container operations for tenant instances.
type Manager struct {
	docker   runtime.Client
	cfg      Config
	reserved capacity.Reservation
}

// NewManager creates a Manager on the given runtime client.
func NewManager(docker runtime.Client, cfg Config, reserved capacity.Reservation) *Manager {
	return &Manager{docker: docker, cfg: cfg, reserved: reserved}
}

// URL returns the tenant's public URL.
func (m *Manager) URL(tenant string) string { return m.cfg.URL(tenant) }

// Ping checks connectivity to the container runtime.
func (m *Manager) Ping(ctx context.Context) (types.Ping, error) {
	return m.docker.Ping(ctx)
}

// ImageRef returns the full image reference for a version.
func (m *Manager) ImageRef(version string) string { return m.cfg.Image + ":" + version }

// PullImage fetches the image for a version, draining the pull stream
// to completion.
func (m *Manager) PullImage(ctx context.Context, version string) error {
	ref := m.ImageRef(version)
	reader, err := m.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}

// FindByTenant looks up the tenant's container by its derived name.
// This lookup is the single source of truth for instance existence;
// both the worker's idempotent re-run and the API's duplicate check
// go through it.
func (m *Manager) FindByTenant(ctx context.Context, tenant string) (container.InspectResponse, error) {
	info, err := m.docker.ContainerInspect(ctx, ContainerName(tenant))
	if err != nil {
		if runtime.IsNotFound(err) {
			return container.InspectResponse{}, ErrNotFound
		}
		return container.InspectResponse{}, fmt.Errorf("inspect %s: %w", tenant, err)
	}
	return info, nil
}

// CreateContainer creates and starts the tenant's container with its
// named data volume, routing labels, environment, and resource
// limits. createdAt is stamped as a label so the reaper and recreate
// operations can preserve the original age.
func (m *Manager) CreateContainer(ctx context.Context, tenant, version, encryptionKey string, createdAt time.Time) (string, error) {
	return m.createWith(ctx, tenant, m.ImageRef(version),
		m.cfg.env(tenant, encryptionKey), m.cfg.labels(tenant, createdAt))
}

func (m *Manager) createWith(ctx context.Context, tenant, imageRef string, env []string, labels map[string]string) (string, error) {
	_, err := m.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   VolumeName(tenant),
		Labels: map[string]string{LabelManaged: "true", LabelTenant: tenant},
	})
	if err != nil {
		return "", fmt.Errorf("create volume for %s: %w", tenant, err)
	}

	cfg := &container.Config{
		Image:  imageRef,
		Env:    env,
		Labels: labels,
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		Resources: container.Resources{
			Memory:            m.cfg.MemoryLimitMB * 1024 * 1024,
			MemoryReservation: m.cfg.MemoryReservationMB * 1024 * 1024,
			CPUShares:         m.cfg.CPUShares,
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: VolumeName(tenant),
			Target: m.cfg.DataDir,
		}},
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{m.cfg.Network: {}},
	}

	resp, err := m.docker.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, ContainerName(tenant))
	if err != nil {
		return "", fmt.Errorf("create container for %s: %w", tenant, err)
	}
	if err := m.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container for %s: %w", tenant, err)
	}
	return resp.ID, nil
}

// Remove deletes the tenant's container and data volume as one
// logical unit. If the volume removal fails after the container is
// gone, the inconsistency is logged and the call still succeeds.
func (m *Manager) Remove(ctx context.Context, tenant string) error {
	if err := m.RemoveContainerOnly(ctx, tenant); err != nil {
		return err
	}
	if err := m.docker.VolumeRemove(ctx, VolumeName(tenant), true); err != nil && !runtime.IsNotFound(err) {
		log.Printf("instance %s: container removed but volume %s was not: %v", tenant, VolumeName(tenant), err)
	}
	return nil
}

// RemoveContainerOnly deletes the container, keeping the data volume.
func (m *Manager) RemoveContainerOnly(ctx context.Context, tenant string) error {
	err := m.docker.ContainerRemove(ctx, ContainerName(tenant), container.RemoveOptions{Force: true})
	if err != nil {
		if runtime.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove container for %s: %w", tenant, err)
	}
	return nil
}

// List returns all managed instances on the host with computed ages.
func (m *Manager) List(ctx context.Context) ([]models.Instance, error) {
	summaries, err := m.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	now := time.Now().UTC()
	out := make([]models.Instance, 0, len(summaries))
	for _, c := range summaries {
		out = append(out, m.instanceFromSummary(c, now))
	}
	return out, nil
}

// Status returns the live view of one tenant's instance.
func (m *Manager) Status(ctx context.Context, tenant string) (models.Instance, error) {
	info, err := m.FindByTenant(ctx, tenant)
	if err != nil {
		return models.Instance{}, err
	}

	created := CreatedAtFrom(info)
	inst := models.Instance{
		Tenant:      tenant,
		URL:         m.cfg.URL(tenant),
		Version:     versionFromImage(info.Config.Image),
		ContainerID: shortID(info.ID),
	}
	if info.State != nil {
		inst.Status = info.State.Status
	}
	if !created.IsZero() {
		c := created
		inst.CreatedAt = &c
		inst.AgeDays = ageDays(created, time.Now().UTC())
	}
	return inst, nil
}

// Restart restarts the tenant's container in place.
func (m *Manager) Restart(ctx context.Context, tenant string) error {
	timeout := 15
	err := m.docker.ContainerRestart(ctx, ContainerName(tenant), container.StopOptions{Timeout: &timeout})
	if err != nil {
		if runtime.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("restart %s: %w", tenant, err)
	}
	return nil
}

// Reset wipes the tenant's container and data volume and provisions a
// fresh instance with a new encryption key.
func (m *Manager) Reset(ctx context.Context, tenant, version string) (string, error) {
	if _, err := m.FindByTenant(ctx, tenant); err != nil {
		return "", err
	}
	if err := m.Remove(ctx, tenant); err != nil {
		return "", err
	}
	if err := m.PullImage(ctx, version); err != nil {
		return "", err
	}
	return m.CreateContainer(ctx, tenant, version, GenerateEncryptionKey(), time.Now().UTC())
}

// UpdateVersion recreates the tenant's container on a new image
// version, preserving its environment (including the encryption key),
// labels, and data volume.
func (m *Manager) UpdateVersion(ctx context.Context, tenant, version string) (string, error) {
	info, err := m.FindByTenant(ctx, tenant)
	if err != nil {
		return "", err
	}
	env := info.Config.Env
	labels := info.Config.Labels

	if err := m.PullImage(ctx, version); err != nil {
		return "", err
	}
	if err := m.RemoveContainerOnly(ctx, tenant); err != nil {
		return "", err
	}
	return m.createWith(ctx, tenant, m.ImageRef(version), env, labels)
}

// Capacity recomputes the host capacity snapshot from live daemon
// state.
func (m *Manager) Capacity(ctx context.Context) (models.Capacity, error) {
	info, err := m.docker.Info(ctx)
	if err != nil {
		return models.Capacity{}, fmt.Errorf("docker info: %w", err)
	}
	instances, err := m.List(ctx)
	if err != nil {
		return models.Capacity{}, err
	}
	running := 0
	for _, inst := range instances {
		if inst.Status == "running" {
			running++
		}
	}
	return capacity.Snapshot(info.MemTotal, info.NCPU, m.reserved, m.cfg.planningCost(), running), nil
}

// EncryptionKeyFrom recovers the tenant's encryption key from a
// container's declared environment.
func EncryptionKeyFrom(info container.InspectResponse) string {
	if info.Config == nil {
		return ""
	}
	for _, e := range info.Config.Env {
		if k, v, ok := strings.Cut(e, "="); ok && k == EnvEncryptionKey {
			return v
		}
	}
	return ""
}

// CreatedAtFrom reads the creation time from the management label,
// falling back to the container's own Created timestamp. Returns the
// zero time when neither parses.
func CreatedAtFrom(info container.InspectResponse) time.Time {
	if info.Config != nil {
		if raw, ok := info.Config.Labels[LabelCreatedAt]; ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				return t.UTC()
			}
		}
	}
	if info.ContainerJSONBase != nil {
		if t, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (m *Manager) instanceFromSummary(c container.Summary, now time.Time) models.Instance {
	tenant := c.Labels[LabelTenant]
	inst := models.Instance{
		Tenant:      tenant,
		Status:      c.State,
		URL:         m.cfg.URL(tenant),
		Version:     versionFromImage(c.Image),
		ContainerID: shortID(c.ID),
	}

	var created time.Time
	if raw, ok := c.Labels[LabelCreatedAt]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			created = t.UTC()
		}
	}
	if created.IsZero() && c.Created > 0 {
		created = time.Unix(c.Created, 0).UTC()
	}
	if !created.IsZero() {
		t := created
		inst.CreatedAt = &t
		inst.AgeDays = ageDays(created, now)
	}
	return inst
}

func ageDays(created, now time.Time) int {
	if now.Before(created) {
		return 0
	}
	return int(now.Sub(created).Hours() / 24)
}

func versionFromImage(image string) string {
	if i := strings.LastIndex(image, ":"); i >= 0 {
		return image[i+1:]
	}
	return "unknown"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
