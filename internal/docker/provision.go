package docker

import (
	"errors"
	"path/filepath"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/config"
	"github.com/jveski/workspaced/internal/provision"
)

// Provisioners returns every step needed to run an environment on a single docker host.
func Provisioners(cfg *config.Config) []provision.Step {
	return append(provision.Agnostic(cfg.DefaultMemoryLimit),
		provision.Named("labels", provision.Func(provision.Labels)),
		provision.Named("bind mounts", BindMounts(cfg.Docker.VolumesRoot)),
		provision.Named("network aliases", provision.Func(NetworkAliases)),
	)
}

// BindMounts backs every volume with a host directory under root/<workspace>/<volume>.
// Volume mounts must have been provisioned first.
func BindMounts(root string) provision.Provisioner {
	return provision.Func(func(env *common.Environment, id common.RuntimeIdentity) error {
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
				mount, ok := c.Volume(v.Name)
				if !ok {
					return &provision.ConfigError{Name: v.Name, Err: errors.New("volume is not mounted in its container")}
				}
				mount.Source = filepath.Join(root, id.WorkspaceID, v.Name)
			}
		}
		return nil
	})
}

// NetworkAliases makes every container reachable by its machine name within the workspace network.
func NetworkAliases(env *common.Environment, id common.RuntimeIdentity) error {
	for _, name := range env.MachineNames() {
		c, err := env.Container(name)
		if err != nil {
			return err
		}
		c.AddAlias(name)
	}
	return nil
}
