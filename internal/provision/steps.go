package provision

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/envvars"
)

const (
	LabelPrefix    = "workspaced."
	LabelWorkspace = LabelPrefix + "workspace"
	LabelOwner     = LabelPrefix + "owner"
	LabelEnv       = LabelPrefix + "env"
	LabelPod       = LabelPrefix + "pod"
	LabelContainer = LabelPrefix + "container"
	LabelEnvHash   = LabelPrefix + "envHash"
)

// Servers declares a port on the container for every server of its machine.
func Servers(env *common.Environment, id common.RuntimeIdentity) error {
	for _, name := range env.MachineNames() {
		mc := env.Machines[name]
		if len(mc.Servers) == 0 {
			continue
		}

		c, err := env.Container(name)
		if err != nil {
			return err
		}
		for _, server := range sortedKeys(mc.Servers) {
			conf := mc.Servers[server]
			if err := validatePort(conf.Port); err != nil {
				return &ConfigError{Name: server, Err: err}
			}
			c.SetPort(common.Port{Server: server, Port: conf.Port, Protocol: conf.Protocol, Path: conf.Path})
		}
	}
	return nil
}

func validatePort(port string) error {
	num, transport, _ := strings.Cut(port, "/")
	if n, err := strconv.ParseUint(num, 10, 16); err != nil || n == 0 {
		return fmt.Errorf("invalid port %q", port)
	}
	switch transport {
	case "", "tcp", "udp", "sctp":
		return nil
	default:
		return fmt.Errorf("invalid transport in port %q", port)
	}
}

// EnvVars merges the declared variables into the container and orders them so that
// references can be expanded sequentially.
func EnvVars(env *common.Environment, id common.RuntimeIdentity) error {
	for _, name := range env.MachineNames() {
		c, err := env.Container(name)
		if err != nil {
			return err
		}

		ordered, err := envvars.Resolve(envvars.Merge(c.Env, env.Machines[name].Env))
		if err != nil {
			return &ConfigError{Name: name, Err: err}
		}
		c.Env = ordered
	}
	return nil
}

// Memory applies the machine's memory limit, falling back to the given default.
func Memory(defaultLimit int64) Provisioner {
	return Func(func(env *common.Environment, id common.RuntimeIdentity) error {
		for _, name := range env.MachineNames() {
			c, err := env.Container(name)
			if err != nil {
				return err
			}

			limit := env.Machines[name].MemoryLimit
			if limit < 0 {
				return &ConfigError{Name: name, Err: fmt.Errorf("negative memory limit %d", limit)}
			}
			if limit == 0 {
				limit = defaultLimit
			}
			c.MemoryLimit = limit
		}
		return nil
	})
}

// Volumes mounts every volume declared by the machine.
// The mount source is left to the backend.
func Volumes(env *common.Environment, id common.RuntimeIdentity) error {
	for _, name := range env.MachineNames() {
		mc := env.Machines[name]
		if len(mc.Volumes) == 0 {
			continue
		}

		c, err := env.Container(name)
		if err != nil {
			return err
		}
		for _, v := range mc.Volumes {
			if v.Name == "" || !strings.HasPrefix(v.Path, "/") {
				return &ConfigError{Name: name, Err: fmt.Errorf("volume %q must have a name and an absolute path", v.Name)}
			}
			c.SetVolume(common.VolumeMount{Name: v.Name, Path: v.Path, ReadOnly: v.ReadOnly})
		}
	}
	return nil
}

// Labels writes the runtime identity and server declarations as labels.
// Servers must have been provisioned first.
func Labels(env *common.Environment, id common.RuntimeIdentity) error {
	for _, name := range env.MachineNames() {
		c, err := env.Container(name)
		if err != nil {
			return err
		}

		c.SetLabel(LabelWorkspace, id.WorkspaceID)
		c.SetLabel(LabelOwner, id.OwnerID)
		c.SetLabel(LabelEnv, id.EnvName)
		c.SetLabel(LabelPod, id.PodName())
		c.SetLabel(LabelContainer, name)
		if env.Hash != "" {
			c.SetLabel(LabelEnvHash, env.Hash)
		}

		for _, server := range sortedKeys(env.Machines[name].Servers) {
			port, ok := c.Port(server)
			if !ok {
				return &ConfigError{Name: server, Err: errors.New("server has no port on its container")}
			}
			prefix := LabelPrefix + "server." + server + "."
			c.SetLabel(prefix+"port", port.Port)
			if port.Protocol != "" {
				c.SetLabel(prefix+"protocol", port.Protocol)
			}
			if port.Path != "" {
				c.SetLabel(prefix+"path", port.Path)
			}
		}
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
