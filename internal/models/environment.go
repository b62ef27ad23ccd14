package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Isolation selects how an environment is provisioned.
type Isolation string

const (
	IsolationVenv      Isolation = "venv"
	IsolationContainer Isolation = "container"
)

var pyEnvName = regexp.MustCompile(`^py(\d)(\d+)$`)

// EnvDefinition is a fully resolved test environment: the merge of the
// [testenv] base section and the environment's own [testenv:<name>]
// section. Values are raw, placeholder substitution happens at run time.
type EnvDefinition struct {
	Name           string
	Description    string
	BasePython     string
	ChangeDir      string
	Deps           []string
	Commands       []string
	SetEnv         map[string]string
	PassEnv        []string
	SkipInstall    bool
	Isolation      Isolation
	ContainerImage string
	Timeout        time.Duration
}

// DefaultBasePython derives the interpreter from an environment name:
// py34 -> python3.4, pypy -> pypy, anything else -> python3.
func DefaultBasePython(name string) string {
	if m := pyEnvName.FindStringSubmatch(name); m != nil {
		return fmt.Sprintf("python%s.%s", m[1], m[2])
	}
	if name == "pypy" {
		return "pypy"
	}
	return "python3"
}

// Validate performs basic validation on the resolved definition.
func (d *EnvDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("environment name is required")
	}

	if len(d.Commands) == 0 {
		return fmt.Errorf("environment %q declares no commands", d.Name)
	}

	switch d.Isolation {
	case IsolationVenv:
		if d.BasePython == "" {
			return fmt.Errorf("environment %q has no base interpreter", d.Name)
		}
	case IsolationContainer:
		if d.ContainerImage == "" {
			return fmt.Errorf("environment %q uses container isolation but sets no container_image", d.Name)
		}
	default:
		return fmt.Errorf("environment %q has unsupported isolation %q", d.Name, d.Isolation)
	}

	if d.Timeout < 0 {
		return fmt.Errorf("environment %q has negative timeout", d.Name)
	}

	return nil
}
