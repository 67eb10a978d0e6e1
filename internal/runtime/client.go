// Package runtime wraps the Docker daemon behind a narrow interface
// covering exactly the calls the provisioner, reaper, and API make.
// Production code talks to a real *client.Client; tests substitute
// the Fake from this package.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
	dockerclient "github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Client is the subset of the Docker API the system depends on.
// *client.Client satisfies it directly.
type Client interface {
	Info(ctx context.Context) (system.Info, error)
	Ping(ctx context.Context) (types.Ping, error)

	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)

	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error

	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error

	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
}

// New creates a Docker client for the given socket. An empty socket
// falls back to the environment (DOCKER_HOST or the default unix
// socket). API version negotiation keeps the client compatible with
// older daemons.
func New(socket string) (*dockerclient.Client, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if socket == "" {
		opts = append(opts, dockerclient.FromEnv)
	} else {
		if !hasScheme(socket) {
			socket = "unix://" + socket
		}
		opts = append(opts, dockerclient.WithHost(socket))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return cli, nil
}

func hasScheme(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '/' && s[i+2] == '/' {
			return true
		}
	}
	return false
}

// ErrNotFound is returned by the Fake for missing objects. IsNotFound
// recognizes it alongside the daemon's own not-found responses.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err means the requested object does not
// exist on the host.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || dockerclient.IsErrNotFound(err)
}
