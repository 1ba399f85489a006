package common

import "strings"

// ReasonStarted is the event reason reported once a container has started running.
const ReasonStarted = "Started"

// RuntimeIdentity scopes an operation to one workspace runtime.
type RuntimeIdentity struct {
	WorkspaceID string `toml:"workspaceID" json:"workspaceID"`
	OwnerID     string `toml:"ownerID" json:"ownerID"`
	EnvName     string `toml:"envName" json:"envName"`
}

const podPrefix = "ws-"

// PodName is the name of the container group backing the runtime.
func (r RuntimeIdentity) PodName() string { return podPrefix + r.WorkspaceID }

// IsWorkspacePod reports whether the pod name could have been returned by PodName.
func IsWorkspacePod(name string) bool { return strings.HasPrefix(name, podPrefix) && len(name) > len(podPrefix) }

type MachineConfig struct {
	Image       string                  `toml:"image"`
	Command     []string                `toml:"command"`
	Env         map[string]string       `toml:"env"`
	Servers     map[string]ServerConfig `toml:"server"`
	Volumes     []VolumeConfig          `toml:"volume"`
	Memory      string                  `toml:"memory"` // i.e. "512m", parsed into MemoryLimit
	MemoryLimit int64                   `toml:"-"`
}

type ServerConfig struct {
	Port     string `toml:"port"` // "8080" or "8080/udp"
	Protocol string `toml:"protocol"`
	Path     string `toml:"path"`
}

type VolumeConfig struct {
	Name     string `toml:"name"`
	Path     string `toml:"path"`
	ReadOnly bool   `toml:"readonly"`
}

type ContainerSpec struct {
	Name           string
	Image          string
	Command        []string
	Env            []EnvVar
	Volumes        []VolumeMount
	Ports          []Port
	Labels         map[string]string
	MemoryLimit    int64
	NetworkAliases []string
}

type EnvVar struct {
	Name  string
	Value string
}

type VolumeMount struct {
	Name     string
	Path     string
	Source   string // host path or claim sub path, set by the backend
	ReadOnly bool
}

type Port struct {
	Server   string
	Port     string
	Protocol string
	Path     string
}

// PodEvent is a lifecycle notification emitted by the infrastructure.
// Timestamps are opaque.
type PodEvent struct {
	Pod            string
	Container      string // empty when the event concerns the pod as a whole
	Reason         string
	Message        string
	FirstTimestamp string
	LastTimestamp  string
}
