package kube

import (
	"errors"
	"path"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/config"
	"github.com/jveski/workspaced/internal/provision"
)

// Provisioners returns every step needed to run an environment as a pod.
func Provisioners(cfg *config.Config) []provision.Step {
	return append(provision.Agnostic(cfg.DefaultMemoryLimit),
		provision.Named("labels", provision.Func(provision.Labels)),
		provision.Named("claim sub paths", provision.Func(PVCSubPaths)),
	)
}

// PVCSubPaths stores every volume in <workspace>/<volume> of the shared claim.
// Volume mounts must have been provisioned first.
func PVCSubPaths(env *common.Environment, id common.RuntimeIdentity) error {
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
			mount.Source = path.Join(id.WorkspaceID, v.Name)
		}
	}
	return nil
}
