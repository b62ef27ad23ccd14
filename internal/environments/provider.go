// Package environments provisions the isolated workspaces that
// configured commands run in: interpreter venvs on the host, or
// containers when an environment opts into container isolation.
package environments

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/envmatrix/envmatrix/internal/execution"
	"github.com/envmatrix/envmatrix/internal/models"
)

// Provider provisions and tears down one environment's workspace.
type Provider interface {
	Provision(ctx context.Context, def *models.EnvDefinition) (*Workspace, error)
	InstallDeps(ctx context.Context, ws *Workspace, def *models.EnvDefinition) error
	Executor(ws *Workspace) execution.CommandExecutor
	Cleanup(ctx context.Context, ws *Workspace) error
}

// Workspace is a provisioned environment ready to run commands.
// BinDir and Python are empty for container workspaces.
type Workspace struct {
	EnvDir      string
	TmpDir      string
	BinDir      string
	Python      string
	ContainerID string

	lock *flock.Flock
}

// Paths computes the workspace layout for an environment without
// provisioning anything. Used by provisioning and by `envmatrix show`.
func Paths(workDir, envName string) *Workspace {
	envDir := filepath.Join(workDir, envName)

	binDir := filepath.Join(envDir, "bin")
	python := filepath.Join(binDir, "python")
	if runtime.GOOS == "windows" {
		binDir = filepath.Join(envDir, "Scripts")
		python = filepath.Join(binDir, "python.exe")
	}

	return &Workspace{
		EnvDir: envDir,
		TmpDir: filepath.Join(envDir, "tmp"),
		BinDir: binDir,
		Python: python,
	}
}

// basePassEnv is always forwarded from the host, independent of the
// environment's passenv setting.
var basePassEnv = []string{"PATH", "HOME", "TMPDIR", "TEMP", "TMP", "LANG", "LC_ALL", "TERM"}

// CommandEnv assembles the environment block for an environment's
// commands: passenv-filtered host variables, then setenv overrides,
// then the workspace's own variables (PATH with the env bin dir
// prepended, VIRTUAL_ENV, ENVMATRIX_ENV).
func CommandEnv(def *models.EnvDefinition, ws *Workspace, hostEnv []string) []string {
	merged := make(map[string]string)

	patterns := append([]string{}, basePassEnv...)
	patterns = append(patterns, def.PassEnv...)

	for _, kv := range hostEnv {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, pattern := range patterns {
			if matched, err := filepath.Match(pattern, name); err == nil && matched {
				merged[name] = value
				break
			}
		}
	}

	for k, v := range def.SetEnv {
		merged[k] = v
	}

	if ws.BinDir != "" {
		if path, ok := merged["PATH"]; ok && path != "" {
			merged["PATH"] = ws.BinDir + string(filepath.ListSeparator) + path
		} else {
			merged["PATH"] = ws.BinDir
		}
		merged["VIRTUAL_ENV"] = ws.EnvDir
	}
	merged["ENVMATRIX_ENV"] = def.Name

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
