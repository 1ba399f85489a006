package docker

import (
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/go-connections/nat"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/envvars"
)

// ContainerName is the docker name of a container in the given pod.
func ContainerName(pod, container string) string { return pod + "_" + container }

// NetworkName is the bridge network shared by the containers of one pod.
func NetworkName(prefix, pod string) string { return prefix + "_" + pod }

type CreateRequest struct {
	Name    string
	Config  *container.Config
	Host    *container.HostConfig
	Network *network.NetworkingConfig
}

// CreateConfig translates a provisioned container into the docker api's create request.
// Docker doesn't expand $(NAME) references, so they're substituted here in resolution order.
func CreateConfig(pod string, spec *common.ContainerSpec, networkName string) (*CreateRequest, error) {
	cc := &CreateRequest{
		Name: ContainerName(pod, spec.Name),
		Config: &container.Config{
			Image:        spec.Image,
			Labels:       spec.Labels,
			ExposedPorts: nat.PortSet{},
		},
		Host: &container.HostConfig{
			Resources: container.Resources{Memory: spec.MemoryLimit},
		},
		Network: &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				networkName: {Aliases: spec.NetworkAliases},
			},
		},
	}
	if len(spec.Command) > 0 {
		cc.Config.Cmd = strslice.StrSlice(spec.Command)
	}

	for _, v := range envvars.Expand(spec.Env) {
		cc.Config.Env = append(cc.Config.Env, v.Name+"="+v.Value)
	}

	for _, p := range spec.Ports {
		proto, port := nat.SplitProtoPort(p.Port)
		np, err := nat.NewPort(proto, port)
		if err != nil {
			return nil, fmt.Errorf("port of server %q: %w", p.Server, err)
		}
		cc.Config.ExposedPorts[np] = struct{}{}
	}

	for _, v := range spec.Volumes {
		if v.Source == "" {
			return nil, fmt.Errorf("volume %q has no host directory", v.Name)
		}
		cc.Host.Mounts = append(cc.Host.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.Source,
			Target:   v.Path,
			ReadOnly: v.ReadOnly,
		})
	}

	return cc, nil
}
