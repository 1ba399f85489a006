package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
)

const (
	BackendDocker     = "docker"
	BackendKubernetes = "kubernetes"
)

type Config struct {
	Backend       string `toml:"backend"`
	DefaultMemory string `toml:"defaultMemory"` // i.e. "2g", empty means unlimited

	Docker     DockerConfig     `toml:"docker"`
	Kubernetes KubernetesConfig `toml:"kubernetes"`
	Clients    []*ClientConfig  `toml:"client"`

	DefaultMemoryLimit int64 `toml:"-"`
}

type DockerConfig struct {
	Host        string `toml:"host"` // empty means the environment's DOCKER_HOST
	Network     string `toml:"network"`
	VolumesRoot string `toml:"volumesRoot"`
}

type KubernetesConfig struct {
	Kubeconfig string `toml:"kubeconfig"`
	Context    string `toml:"context"`
	Namespace  string `toml:"namespace"`
	ClaimName  string `toml:"claimName"`
}

type ClientConfig struct {
	Fingerprint string `toml:"fingerprint"`
}

// Load reads the daemon config. A missing file results in the defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	_, err := toml.DecodeFile(path, c)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() error {
	if c.Backend == "" {
		c.Backend = BackendDocker
	}
	switch c.Backend {
	case BackendDocker, BackendKubernetes:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.DefaultMemory != "" {
		limit, err := units.RAMInBytes(c.DefaultMemory)
		if err != nil {
			return fmt.Errorf("parsing default memory: %w", err)
		}
		c.DefaultMemoryLimit = limit
	}

	if c.Docker.Network == "" {
		c.Docker.Network = "workspaced"
	}
	if c.Docker.VolumesRoot == "" {
		c.Docker.VolumesRoot = "/var/lib/workspaced/volumes"
	}
	if c.Kubernetes.Namespace == "" {
		c.Kubernetes.Namespace = "default"
	}
	if c.Kubernetes.ClaimName == "" {
		c.Kubernetes.ClaimName = "workspaced-volumes"
	}
	return nil
}

// TrustsCert implements rpc.Authorizer for the configured clients.
func (c *Config) TrustsCert(fingerprint string) bool {
	for _, client := range c.Clients {
		if client.Fingerprint != "" && client.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}
