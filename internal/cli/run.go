// Package cli implements the envmatrix commands. Each RunX function
// backs one cobra command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/theblitlabs/gologger"

	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/environments"
	"github.com/envmatrix/envmatrix/internal/matrix"
	"github.com/envmatrix/envmatrix/internal/models"
	"github.com/envmatrix/envmatrix/internal/report"
	"github.com/envmatrix/envmatrix/internal/runner"
	"github.com/envmatrix/envmatrix/internal/storage/db"
	"github.com/envmatrix/envmatrix/internal/storage/repository"
	"github.com/envmatrix/envmatrix/internal/version"
)

// ErrRunFailed signals that environments ran and at least one failed.
// The main package maps it to exit code 1.
var ErrRunFailed = errors.New("one or more environments failed")

// RunOptions carries the run command's flags.
type RunOptions struct {
	ConfigPath     string
	ToolConfigPath string
	Envs           []string
	PosArgs        []string
	Parallel       int
}

// RunRun executes the requested environments and prints the summary.
func RunRun(ctx context.Context, opts RunOptions) error {
	log := gologger.WithComponent("cli")

	cfg, err := config.LoadConfig(opts.ToolConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load tool config: %w", err)
	}

	project, err := loadProject(opts.ConfigPath)
	if err != nil {
		return err
	}

	history, closeHistory := openHistory(cfg, project)
	defer closeHistory()

	providers := buildProviders(cfg, project)

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = cfg.Parallel
	}

	service := runner.NewService(project, providers, history, version.Version)
	rep, err := service.Run(ctx, runner.RunOptions{
		Envs:           opts.Envs,
		PosArgs:        opts.PosArgs,
		Parallel:       parallel,
		DefaultTimeout: cfg.Execution.Timeout,
	})
	if err != nil {
		return err
	}

	report.Print(os.Stdout, rep)

	if history != nil {
		if err := history.Prune(cfg.History.Limit); err != nil {
			log.Warn().Err(err).Msg("Failed to prune run history")
		}
	}

	if rep.Failed() {
		return ErrRunFailed
	}
	return nil
}

// loadProject locates and parses the matrix config file.
func loadProject(configPath string) (*matrix.Project, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	path, err := matrix.Locate(cwd, configPath)
	if err != nil {
		return nil, err
	}

	return matrix.Load(path)
}

// openHistory opens the run history store. History is optional: any
// failure degrades to running without it.
func openHistory(cfg *config.Config, project *matrix.Project) (repository.RunRepository, func()) {
	log := gologger.WithComponent("cli")

	if !cfg.History.Enabled {
		return nil, func() {}
	}

	path := cfg.History.Path
	if path == "" {
		path = filepath.Join(project.WorkDir, "history.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot create history directory, continuing without history")
		return nil, func() {}
	}

	service, err := db.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot open run history, continuing without it")
		return nil, func() {}
	}

	if err := service.Migrate(&models.RunRecord{}, &models.CommandRecord{}); err != nil {
		log.Warn().Err(err).Msg("History migration failed, continuing without history")
		if closeErr := service.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close history database")
		}
		return nil, func() {}
	}

	closer := func() {
		if err := service.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history database")
		}
	}
	return repository.NewGormRunRepository(service.GetDB()), closer
}

// buildProviders wires an environment provider per isolation mode.
// The container provider is optional: environments that need it fail
// individually when Docker is unavailable.
func buildProviders(cfg *config.Config, project *matrix.Project) map[models.Isolation]environments.Provider {
	log := gologger.WithComponent("cli")

	providers := map[models.Isolation]environments.Provider{
		models.IsolationVenv: environments.NewVenvProvider(
			project.WorkDir,
			cfg.Execution.OutputTail,
			cfg.Install.Retries,
			cfg.Install.Backoff,
		),
	}

	containerProvider, err := environments.NewContainerProvider(
		project.BaseDir,
		cfg.Execution.OutputTail,
		cfg.Install.Retries,
		cfg.Install.Backoff,
	)
	if err != nil {
		log.Debug().Err(err).Msg("Container provider unavailable")
	} else {
		providers[models.IsolationContainer] = containerProvider
	}

	return providers
}
