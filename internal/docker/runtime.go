package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/config"
	"github.com/jveski/workspaced/internal/provision"
)

// apiClient is the part of the docker client used by the runtime.
type apiClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Events(ctx context.Context, options types.EventsOptions) (<-chan events.Message, <-chan error)
	NetworkCreate(ctx context.Context, name string, options types.NetworkCreate) (types.NetworkCreateResponse, error)
	NetworkRemove(ctx context.Context, networkID string) error
}

// Runtime runs each workspace as a group of containers on one docker host.
type Runtime struct {
	cli     apiClient
	network string

	lock      sync.Mutex
	lastEvent time.Time
}

func NewRuntime(cfg config.DockerConfig) (*Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging docker: %w", err)
	}

	return newRuntime(cli, cfg.Network), nil
}

func newRuntime(cli apiClient, network string) *Runtime {
	return &Runtime{cli: cli, network: network}
}

// Create starts the provisioned containers of the environment.
// Containers created before a failure are removed again.
func (r *Runtime) Create(ctx context.Context, env *common.Environment, id common.RuntimeIdentity) error {
	pod := id.PodName()
	netName := NetworkName(r.network, pod)

	reqs := []*CreateRequest{}
	for _, name := range env.MachineNames() {
		spec, ok := env.Containers[name]
		if !ok {
			continue
		}
		req, err := CreateConfig(pod, spec, netName)
		if err != nil {
			return fmt.Errorf("container %q: %w", name, err)
		}
		reqs = append(reqs, req)
	}

	_, err := r.cli.NetworkCreate(ctx, netName, types.NetworkCreate{
		Driver: "bridge",
		Labels: map[string]string{provision.LabelPod: pod, provision.LabelWorkspace: id.WorkspaceID},
	})
	if err != nil && !errdefs.IsConflict(err) {
		return fmt.Errorf("creating network %q: %w", netName, err)
	}

	for _, req := range reqs {
		if err := r.start(ctx, req); err != nil {
			if rmErr := r.Remove(context.Background(), id); rmErr != nil {
				log.Printf("error cleaning up workspace %q after failed create: %s", id.WorkspaceID, rmErr)
			}
			return err
		}
		log.Printf("started container %q", req.Name)
	}
	return nil
}

func (r *Runtime) start(ctx context.Context, req *CreateRequest) error {
	for _, m := range req.Host.Mounts {
		if err := os.MkdirAll(m.Source, 0755); err != nil {
			return fmt.Errorf("creating volume directory: %w", err)
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, req.Config, req.Host, req.Network, nil, req.Name)
	if err != nil {
		return fmt.Errorf("creating container %q: %w", req.Name, err)
	}
	for _, warning := range resp.Warnings {
		log.Printf("warning while creating container %q: %s", req.Name, warning)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %q: %w", req.Name, err)
	}
	return nil
}

// Remove deletes every container of the workspace along with its network.
// Volume directories are kept.
func (r *Runtime) Remove(ctx context.Context, id common.RuntimeIdentity) error {
	pod := id.PodName()
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", provision.LabelPod+"="+pod)),
	})
	if err != nil {
		return fmt.Errorf("listing containers: %w", err)
	}

	for _, c := range list {
		err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		if err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("removing container %q: %w", c.ID, err)
		}
		log.Printf("removed container %q", c.ID)
	}

	netName := NetworkName(r.network, pod)
	if err := r.cli.NetworkRemove(ctx, netName); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing network %q: %w", netName, err)
	}
	return nil
}

// OpenLogs follows the combined stdout and stderr of a container.
func (r *Runtime) OpenLogs(ctx context.Context, pod, container string) (io.ReadCloser, error) {
	raw, err := r.cli.ContainerLogs(ctx, ContainerName(pod, container), containerLogsOptions)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		defer raw.Close()
		_, err := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(err)
	}()
	return &logStream{PipeReader: pr, raw: raw}, nil
}

var containerLogsOptions = container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true}

type logStream struct {
	*io.PipeReader
	raw io.Closer
}

func (l *logStream) Close() error {
	l.raw.Close()
	return l.PipeReader.Close()
}

// WatchEvents reports workspace containers starting until ctx is done or the subscription fails.
// Reconnects resume from the last event seen.
func (r *Runtime) WatchEvents(ctx context.Context, fn func(common.PodEvent)) error {
	opts := types.EventsOptions{
		Filters: filters.NewArgs(
			filters.Arg("type", string(events.ContainerEventType)),
			filters.Arg("event", "start"),
			filters.Arg("label", provision.LabelPod),
		),
	}
	r.lock.Lock()
	if !r.lastEvent.IsZero() {
		opts.Since = strconv.FormatInt(r.lastEvent.Unix(), 10)
	}
	r.lock.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, errs := r.cli.Events(ctx, opts)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err == nil || errors.Is(err, io.EOF) {
				return errors.New("event stream ended")
			}
			return fmt.Errorf("watching docker events: %w", err)
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("event stream ended")
			}
			ev, ok := translateEvent(msg)
			if !ok {
				continue
			}
			r.lock.Lock()
			r.lastEvent = time.Unix(0, msg.TimeNano)
			r.lock.Unlock()
			fn(ev)
		}
	}
}

func translateEvent(msg events.Message) (common.PodEvent, bool) {
	if msg.Type != events.ContainerEventType || string(msg.Action) != "start" {
		return common.PodEvent{}, false
	}
	pod := msg.Actor.Attributes[provision.LabelPod]
	if pod == "" {
		return common.PodEvent{}, false
	}

	ts := strconv.FormatInt(msg.TimeNano, 10)
	return common.PodEvent{
		Pod:            pod,
		Container:      msg.Actor.Attributes[provision.LabelContainer],
		Reason:         common.ReasonStarted,
		Message:        "Started container " + msg.Actor.Attributes["name"],
		FirstTimestamp: ts,
		LastTimestamp:  ts,
	}, true
}
