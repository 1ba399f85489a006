package provision

import (
	"errors"
	"fmt"
	"log"

	"github.com/jveski/workspaced/common"
)

// Provisioner is one idempotent step applied to an environment.
// Steps must replace by key rather than blindly append.
type Provisioner interface {
	Provision(env *common.Environment, id common.RuntimeIdentity) error
}

type Func func(env *common.Environment, id common.RuntimeIdentity) error

func (f Func) Provision(env *common.Environment, id common.RuntimeIdentity) error { return f(env, id) }

// Step names a provisioner for logging and error messages.
type Step struct {
	Name string
	Provisioner
}

func Named(name string, p Provisioner) Step { return Step{Name: name, Provisioner: p} }

// ConfigError is returned when the environment description itself is invalid,
// e.g. a cyclic variable definition or a fact that an earlier step should have provided.
type ConfigError struct {
	Name string // offending machine, variable, server, or volume
	Err  error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("%s: %s", e.Name, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// Pipeline runs a fixed list of steps in order.
// Nothing is rolled back on failure: callers discard the environment.
type Pipeline struct {
	steps []Step
}

func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

func (p *Pipeline) Run(env *common.Environment, id common.RuntimeIdentity) error {
	if id.WorkspaceID == "" {
		return errors.New("runtime identity has no workspace id")
	}
	if env == nil {
		return errors.New("no environment to provision")
	}
	if err := env.Validate(); err != nil {
		return &ConfigError{Name: env.Name, Err: err}
	}

	for _, step := range p.steps {
		if err := step.Provision(env, id); err != nil {
			return fmt.Errorf("provisioning %s for workspace %q: %w", step.Name, id.WorkspaceID, err)
		}
	}

	if err := env.Validate(); err != nil {
		return fmt.Errorf("provisioned environment is inconsistent: %w", err)
	}
	log.Printf("provisioned %d container(s) for workspace %q", len(env.Containers), id.WorkspaceID)
	return nil
}

// Agnostic returns the infrastructure-agnostic steps in the order they must run.
// Backends append their own steps after these.
func Agnostic(defaultMemory int64) []Step {
	return []Step{
		Named("servers", Func(Servers)),
		Named("env", Func(EnvVars)),
		Named("memory", Memory(defaultMemory)),
		Named("volumes", Func(Volumes)),
	}
}
