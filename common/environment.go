package common

import (
	"fmt"
	"sort"
)

// Environment is the in-memory description of one workspace runtime.
// Containers are keyed by the name of the machine they implement.
type Environment struct {
	Name       string
	Hash       string
	Machines   map[string]*MachineConfig
	Containers map[string]*ContainerSpec
}

func NewEnvironment(name string, machines map[string]*MachineConfig) *Environment {
	if machines == nil {
		machines = map[string]*MachineConfig{}
	}
	return &Environment{Name: name, Machines: machines, Containers: map[string]*ContainerSpec{}}
}

// MachineNames returns the machine names in a stable order.
func (e *Environment) MachineNames() []string {
	names := make([]string, 0, len(e.Machines))
	for name := range e.Machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Container returns the container implementing the given machine, creating it on first use.
func (e *Environment) Container(machine string) (*ContainerSpec, error) {
	mc, ok := e.Machines[machine]
	if !ok {
		return nil, fmt.Errorf("machine %q is not declared", machine)
	}
	if e.Containers == nil {
		e.Containers = map[string]*ContainerSpec{}
	}
	if c, ok := e.Containers[machine]; ok {
		return c, nil
	}

	c := &ContainerSpec{
		Name:    machine,
		Image:   mc.Image,
		Command: mc.Command,
		Labels:  map[string]string{},
	}
	e.Containers[machine] = c
	return c, nil
}

func (e *Environment) Validate() error {
	for name := range e.Containers {
		if _, ok := e.Machines[name]; !ok {
			return fmt.Errorf("container %q has no machine config", name)
		}
	}
	for name, mc := range e.Machines {
		if mc == nil {
			return fmt.Errorf("machine %q has no config", name)
		}
		if mc.Image == "" {
			return fmt.Errorf("machine %q has no image", name)
		}
	}
	return nil
}

func (c *ContainerSpec) LookupEnv(name string) (string, bool) {
	for _, v := range c.Env {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// SetEnv replaces the variable in place or appends it.
func (c *ContainerSpec) SetEnv(name, value string) {
	for i, v := range c.Env {
		if v.Name == name {
			c.Env[i].Value = value
			return
		}
	}
	c.Env = append(c.Env, EnvVar{Name: name, Value: value})
}

func (c *ContainerSpec) Volume(name string) (*VolumeMount, bool) {
	for i := range c.Volumes {
		if c.Volumes[i].Name == name {
			return &c.Volumes[i], true
		}
	}
	return nil, false
}

// SetVolume replaces the mount with the same name or appends it.
// The backend-assigned source is kept when the replacement doesn't carry one.
func (c *ContainerSpec) SetVolume(m VolumeMount) {
	if existing, ok := c.Volume(m.Name); ok {
		if m.Source == "" {
			m.Source = existing.Source
		}
		*existing = m
		return
	}
	c.Volumes = append(c.Volumes, m)
}

func (c *ContainerSpec) Port(server string) (*Port, bool) {
	for i := range c.Ports {
		if c.Ports[i].Server == server {
			return &c.Ports[i], true
		}
	}
	return nil, false
}

func (c *ContainerSpec) SetPort(p Port) {
	if existing, ok := c.Port(p.Server); ok {
		*existing = p
		return
	}
	c.Ports = append(c.Ports, p)
}

func (c *ContainerSpec) SetLabel(key, value string) {
	if c.Labels == nil {
		c.Labels = map[string]string{}
	}
	c.Labels[key] = value
}

func (c *ContainerSpec) AddAlias(alias string) {
	for _, a := range c.NetworkAliases {
		if a == alias {
			return
		}
	}
	c.NetworkAliases = append(c.NetworkAliases, alias)
}
