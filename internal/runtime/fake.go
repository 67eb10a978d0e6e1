package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// FakeContainer is the Fake's record of one created container.
type FakeContainer struct {
	ID      string
	Name    string
	Config  *container.Config
	Host    *container.HostConfig
	State   string
	Created time.Time
}

// Fake is an in-memory Client for tests. Error fields, when set, are
// returned by the corresponding call. All methods are safe for
// concurrent use.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*FakeContainer
	volumes    map[string]volume.Volume
	networks   map[string]network.Inspect
	pulled     []string
	nextID     int

	InfoResult system.Info

	InfoErr         error
	PullErr         error
	CreateErr       error
	StartErr        error
	RestartErr      error
	RemoveErr       error
	ListErr         error
	VolumeCreateErr error
	VolumeRemoveErr error
}

// NewFake returns an empty in-memory client with 8GB of reported
// host memory.
func NewFake() *Fake {
	return &Fake{
		containers: make(map[string]*FakeContainer),
		volumes:    make(map[string]volume.Volume),
		networks:   make(map[string]network.Inspect),
		InfoResult: system.Info{MemTotal: 8 * 1024 * 1024 * 1024, NCPU: 4},
	}
}

func (f *Fake) Info(ctx context.Context) (system.Info, error) {
	if f.InfoErr != nil {
		return system.Info{}, f.InfoErr
	}
	return f.InfoResult, nil
}

func (f *Fake) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, nil
}

func (f *Fake) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	if f.PullErr != nil {
		return nil, f.PullErr
	}
	f.mu.Lock()
	f.pulled = append(f.pulled, refStr)
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader("{}")), nil
}

// Pulled returns the image references pulled so far.
func (f *Fake) Pulled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pulled...)
}

func (f *Fake) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
	networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.CreateErr != nil {
		return container.CreateResponse{}, f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.containers[containerName]; exists {
		return container.CreateResponse{}, fmt.Errorf("conflict: container name %q already in use", containerName)
	}
	f.nextID++
	c := &FakeContainer{
		ID:      fmt.Sprintf("fake%08d", f.nextID),
		Name:    containerName,
		Config:  config,
		Host:    hostConfig,
		State:   "created",
		Created: time.Now().UTC(),
	}
	f.containers[containerName] = c
	return container.CreateResponse{ID: c.ID}, nil
}

func (f *Fake) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if f.StartErr != nil {
		return f.StartErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byIDOrName(containerID)
	if c == nil {
		return fmt.Errorf("container %s: %w", containerID, ErrNotFound)
	}
	c.State = "running"
	return nil
}

func (f *Fake) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byIDOrName(containerID)
	if c == nil {
		return container.InspectResponse{}, fmt.Errorf("container %s: %w", containerID, ErrNotFound)
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:         c.ID,
			Name:       "/" + c.Name,
			Created:    c.Created.Format(time.RFC3339Nano),
			State:      &container.State{Status: c.State, Running: c.State == "running"},
			HostConfig: c.Host,
		},
		Config: c.Config,
	}, nil
}

func (f *Fake) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []container.Summary
	labelFilters := options.Filters.Get("label")
	for _, c := range f.containers {
		if !options.All && c.State != "running" {
			continue
		}
		if !matchesLabels(c.Config.Labels, labelFilters) {
			continue
		}
		out = append(out, container.Summary{
			ID:      c.ID,
			Names:   []string{"/" + c.Name},
			Image:   c.Config.Image,
			Labels:  c.Config.Labels,
			State:   c.State,
			Created: c.Created.Unix(),
		})
	}
	return out, nil
}

func (f *Fake) ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error {
	if f.RestartErr != nil {
		return f.RestartErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byIDOrName(containerID)
	if c == nil {
		return fmt.Errorf("container %s: %w", containerID, ErrNotFound)
	}
	c.State = "running"
	return nil
}

func (f *Fake) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byIDOrName(containerID)
	if c == nil {
		return fmt.Errorf("container %s: %w", containerID, ErrNotFound)
	}
	delete(f.containers, c.Name)
	return nil
}

func (f *Fake) VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error) {
	if f.VolumeCreateErr != nil {
		return volume.Volume{}, f.VolumeCreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v := volume.Volume{Name: options.Name, Driver: "local", Labels: options.Labels}
	f.volumes[options.Name] = v
	return v, nil
}

func (f *Fake) VolumeRemove(ctx context.Context, volumeID string, force bool) error {
	if f.VolumeRemoveErr != nil {
		return f.VolumeRemoveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.volumes[volumeID]; !ok {
		return fmt.Errorf("volume %s: %w", volumeID, ErrNotFound)
	}
	delete(f.volumes, volumeID)
	return nil
}

func (f *Fake) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = network.Inspect{Name: name, Driver: options.Driver}
	return network.CreateResponse{ID: "net-" + name}, nil
}

func (f *Fake) NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[networkID]
	if !ok {
		return network.Inspect{}, fmt.Errorf("network %s: %w", networkID, ErrNotFound)
	}
	return n, nil
}

// Container returns the stored record for a container name, or nil.
func (f *Fake) Container(name string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[name]
}

// SetState overrides a container's state, e.g. to simulate a crash.
func (f *Fake) SetState(name, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.State = state
	}
}

// SetCreated backdates a container, for age-based tests.
func (f *Fake) SetCreated(name string, created time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.Created = created
	}
}

// HasVolume reports whether a named volume exists.
func (f *Fake) HasVolume(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.volumes[name]
	return ok
}

func (f *Fake) byIDOrName(key string) *FakeContainer {
	if c, ok := f.containers[key]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.ID == key {
			return c
		}
	}
	return nil
}

func matchesLabels(labels map[string]string, wanted []string) bool {
	for _, w := range wanted {
		k, v, hasValue := strings.Cut(w, "=")
		got, ok := labels[k]
		if !ok {
			return false
		}
		if hasValue && got != v {
			return false
		}
	}
	return true
}
