package environments

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/sethvargo/go-retry"
	"github.com/theblitlabs/gologger"

	"github.com/envmatrix/envmatrix/internal/execution"
	"github.com/envmatrix/envmatrix/internal/models"
)

// ContainerSrcDir is where the project directory is mounted inside
// container-isolated environments.
const ContainerSrcDir = "/src"

// ContainerProvider provisions environments as long-lived containers
// with the project directory bind-mounted at /src. Commands run via
// docker exec against the provisioned container.
type ContainerProvider struct {
	cli            *client.Client
	projectDir     string
	outputTail     int
	installRetries uint64
	installBackoff time.Duration
}

func NewContainerProvider(projectDir string, outputTail int, installRetries uint64, installBackoff time.Duration) (*ContainerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &ContainerProvider{
		cli:            cli,
		projectDir:     projectDir,
		outputTail:     outputTail,
		installRetries: installRetries,
		installBackoff: installBackoff,
	}, nil
}

func (p *ContainerProvider) Provision(ctx context.Context, def *models.EnvDefinition) (*Workspace, error) {
	log := gologger.WithComponent("environments.container")

	if err := p.ensureImage(ctx, def.ContainerImage); err != nil {
		return nil, err
	}

	resp, err := p.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      def.ContainerImage,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: ContainerSrcDir,
			Labels:     map[string]string{"io.envmatrix.env": def.Name},
		},
		&container.HostConfig{
			Mounts: []mount.Mount{
				{
					Type:   mount.TypeBind,
					Source: p.projectDir,
					Target: ContainerSrcDir,
				},
			},
		},
		nil,
		nil,
		"",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container for %s: %w", def.Name, err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := p.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			log.Warn().Err(removeErr).Str("container", resp.ID).Msg("Failed to remove container after start failure")
		}
		return nil, fmt.Errorf("failed to start container for %s: %w", def.Name, err)
	}

	log.Info().
		Str("env", def.Name).
		Str("image", def.ContainerImage).
		Str("container", resp.ID[:12]).
		Msg("Container provisioned")

	return &Workspace{ContainerID: resp.ID}, nil
}

func (p *ContainerProvider) ensureImage(ctx context.Context, ref string) error {
	log := gologger.WithComponent("environments.container")

	if _, _, err := p.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	log.Info().Str("image", ref).Msg("Pulling image")
	reader, err := p.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// Wait for pull to complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("image pull interrupted: %w", err)
	}
	return nil
}

func (p *ContainerProvider) InstallDeps(ctx context.Context, ws *Workspace, def *models.EnvDefinition) error {
	if def.SkipInstall || len(def.Deps) == 0 {
		return nil
	}

	log := gologger.WithComponent("environments.container")
	args := append([]string{"exec", ws.ContainerID, "pip", "install"}, def.Deps...)

	log.Info().
		Str("env", def.Name).
		Strs("deps", def.Deps).
		Msg("Installing dependencies in container")

	backoff := retry.WithMaxRetries(p.installRetries, retry.NewExponential(p.installBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := execution.RunQuiet(ctx, "docker", args...); err != nil {
			log.Warn().Err(err).Str("env", def.Name).Msg("Dependency install attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dependency install failed for %s: %w", def.Name, err)
	}
	return nil
}

func (p *ContainerProvider) Executor(ws *Workspace) execution.CommandExecutor {
	return &containerExecutor{
		local:       execution.NewLocalExecutor(p.outputTail),
		containerID: ws.ContainerID,
	}
}

func (p *ContainerProvider) Cleanup(ctx context.Context, ws *Workspace) error {
	if ws.ContainerID == "" {
		return nil
	}
	if err := p.cli.ContainerRemove(ctx, ws.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// containerExecutor rewrites each command into a docker exec against
// the workspace's container.
type containerExecutor struct {
	local       *execution.LocalExecutor
	containerID string
}

func (e *containerExecutor) ExecuteCommand(ctx context.Context, spec *execution.CommandSpec) (*execution.CommandResult, error) {
	argv := []string{"docker", "exec"}
	if spec.Dir != "" {
		argv = append(argv, "-w", spec.Dir)
	}
	for _, kv := range spec.Env {
		// PATH would clobber the image's own; everything else passes.
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		argv = append(argv, "-e", kv)
	}
	argv = append(argv, e.containerID)
	argv = append(argv, spec.Argv...)

	return e.local.ExecuteCommand(ctx, &execution.CommandSpec{
		Argv:    argv,
		Timeout: spec.Timeout,
	})
}
