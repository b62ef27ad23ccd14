// Package runner orchestrates environment runs: it resolves requested
// environments, provisions their workspaces, expands and executes their
// command sequences and records the outcomes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/shlex"
	goversion "github.com/hashicorp/go-version"
	"github.com/joho/godotenv"
	"github.com/theblitlabs/gologger"

	"github.com/envmatrix/envmatrix/internal/environments"
	"github.com/envmatrix/envmatrix/internal/execution"
	"github.com/envmatrix/envmatrix/internal/interp"
	"github.com/envmatrix/envmatrix/internal/matrix"
	"github.com/envmatrix/envmatrix/internal/models"
	"github.com/envmatrix/envmatrix/internal/storage/repository"
)

// ErrMinVersion is returned when the config requires a newer envmatrix.
var ErrMinVersion = errors.New("config requires a newer envmatrix")

// RunOptions select what to run and how.
type RunOptions struct {
	// Envs overrides the config's envlist when non-empty.
	Envs []string
	// PosArgs replaces {posargs} in commands.
	PosArgs []string
	// Parallel runs up to N environments concurrently when > 1.
	Parallel int
	// DefaultTimeout applies to environments that set no timeout of
	// their own. Zero means no limit.
	DefaultTimeout time.Duration
}

// EnvResult is the outcome of one environment run.
type EnvResult struct {
	Name     string
	Status   models.RunStatus
	Reason   string
	Duration time.Duration
}

// Report aggregates the results of all requested environments in
// request order.
type Report struct {
	Results []EnvResult
}

// Failed reports whether any environment did not succeed.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status != models.RunStatusSucceeded {
			return true
		}
	}
	return false
}

// Service runs environments from one loaded project.
type Service struct {
	project   *matrix.Project
	providers map[models.Isolation]environments.Provider
	history   repository.RunRepository
	version   string
}

// NewService creates a runner service. history may be nil to disable
// run recording; providers maps each isolation mode to its provider.
func NewService(project *matrix.Project, providers map[models.Isolation]environments.Provider, history repository.RunRepository, version string) *Service {
	return &Service{
		project:   project,
		providers: providers,
		history:   history,
		version:   version,
	}
}

// Run executes the requested environments and returns a per-environment
// report. Individual environment failures are reported, not returned as
// errors; an error means nothing was run at all.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	log := gologger.WithComponent("runner")

	if err := s.checkMinVersion(); err != nil {
		return nil, err
	}

	envs := opts.Envs
	if len(envs) == 0 {
		envs = s.project.EnvList
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("no environments configured in %s", s.project.Path)
	}
	for _, name := range envs {
		if !s.project.HasEnv(name) {
			return nil, fmt.Errorf("%w: %q", matrix.ErrUnknownEnv, name)
		}
	}

	// Host env merged with the project .env file backs {env:VAR}.
	lookupEnv := s.loadLookupEnv()

	log.Info().
		Strs("envs", envs).
		Int("parallel", opts.Parallel).
		Msg("Starting environment runs")

	results := make([]EnvResult, len(envs))

	if opts.Parallel > 1 {
		wp := workerpool.New(opts.Parallel)
		for i, name := range envs {
			i, name := i, name
			wp.Submit(func() {
				results[i] = s.runEnv(ctx, name, &opts, lookupEnv)
			})
		}
		wp.StopWait()
	} else {
		for i, name := range envs {
			results[i] = s.runEnv(ctx, name, &opts, lookupEnv)
		}
	}

	return &Report{Results: results}, nil
}

func (s *Service) checkMinVersion() error {
	if s.project.MinVersion == "" || s.version == "" {
		return nil
	}

	required, err := goversion.NewVersion(s.project.MinVersion)
	if err != nil {
		return fmt.Errorf("invalid minversion %q: %w", s.project.MinVersion, err)
	}
	running, err := goversion.NewVersion(s.version)
	if err != nil {
		return fmt.Errorf("invalid tool version %q: %w", s.version, err)
	}
	if running.LessThan(required) {
		return fmt.Errorf("%w: have %s, need >= %s", ErrMinVersion, s.version, s.project.MinVersion)
	}
	return nil
}

// loadLookupEnv builds the {env:VAR} lookup source: the host
// environment with the project's .env file (when present) layered on.
func (s *Service) loadLookupEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	dotenvPath := filepath.Join(s.project.BaseDir, ".env")
	if vars, err := godotenv.Read(dotenvPath); err == nil {
		for k, v := range vars {
			env[k] = v
		}
		log := gologger.WithComponent("runner")
		log.Debug().Str("path", dotenvPath).Int("vars", len(vars)).Msg("Loaded .env file")
	}

	return env
}

func (s *Service) runEnv(ctx context.Context, name string, opts *RunOptions, lookupEnv map[string]string) EnvResult {
	log := gologger.WithComponent("runner")
	started := time.Now()

	fail := func(status models.RunStatus, record *models.RunRecord, reason string) EnvResult {
		if record != nil {
			record.Finish(status, reason)
			s.saveRecord(record)
		}
		return EnvResult{Name: name, Status: status, Reason: reason, Duration: time.Since(started)}
	}

	def, err := s.project.Resolve(name)
	if err != nil {
		return fail(models.RunStatusError, nil, err.Error())
	}
	if def.Timeout == 0 {
		def.Timeout = opts.DefaultTimeout
	}

	provider, ok := s.providers[def.Isolation]
	if !ok {
		return fail(models.RunStatusError, nil, fmt.Sprintf("no provider for isolation %q", def.Isolation))
	}

	record := models.NewRunRecord(name, s.project.Path)
	record.Status = models.RunStatusRunning

	log.Info().Str("env", name).Msg("Provisioning environment")
	ws, err := provider.Provision(ctx, def)
	if err != nil {
		return fail(models.RunStatusError, record, fmt.Sprintf("provisioning failed: %v", err))
	}
	defer func() {
		if err := provider.Cleanup(context.Background(), ws); err != nil {
			log.Warn().Err(err).Str("env", name).Msg("Environment cleanup failed")
		}
	}()

	if err := provider.InstallDeps(ctx, ws, def); err != nil {
		return fail(models.RunStatusError, record, fmt.Sprintf("dependency install failed: %v", err))
	}

	ictx := &interp.Context{
		EnvName:   name,
		EnvDir:    ws.EnvDir,
		EnvTmpDir: ws.TmpDir,
		EnvBinDir: ws.BinDir,
		EnvPython: ws.Python,
		ConfDir:   s.project.BaseDir,
		WorkDir:   s.project.WorkDir,
		PosArgs:   opts.PosArgs,
		File:      s.project.File,
		Lookup: func(key string) (string, bool) {
			if v, ok := def.SetEnv[key]; ok {
				return v, true
			}
			v, ok := lookupEnv[key]
			return v, ok
		},
	}

	workdir, err := s.resolveChangeDir(def, ictx)
	if err != nil {
		return fail(models.RunStatusError, record, err.Error())
	}

	// setenv values may reference placeholders and host variables.
	expanded, err := expandSetEnv(def, ictx, lookupEnv)
	if err != nil {
		return fail(models.RunStatusError, record, err.Error())
	}
	def.SetEnv = expanded

	cmdEnv := environments.CommandEnv(def, ws, os.Environ())
	executor := provider.Executor(ws)

	status, reason := s.runCommands(ctx, def, ictx, executor, workdir, cmdEnv, record)
	record.Finish(status, reason)
	s.saveRecord(record)

	log.Info().
		Str("env", name).
		Str("status", string(status)).
		Dur("duration", time.Since(started)).
		Msg("Environment finished")

	return EnvResult{Name: name, Status: status, Reason: reason, Duration: time.Since(started)}
}

// runCommands executes the environment's commands in listed order. The
// first failing command aborts the remainder unless it carries the
// leading "-" ignore marker.
func (s *Service) runCommands(
	ctx context.Context,
	def *models.EnvDefinition,
	ictx *interp.Context,
	executor execution.CommandExecutor,
	workdir string,
	cmdEnv []string,
	record *models.RunRecord,
) (models.RunStatus, string) {
	log := gologger.WithComponent("runner")

	for seq, raw := range def.Commands {
		if err := ctx.Err(); err != nil {
			return models.RunStatusError, fmt.Sprintf("run interrupted: %v", err)
		}

		line, ignoreExit := strings.CutPrefix(raw, "-")
		line = strings.TrimSpace(line)

		expanded, err := interp.Expand(line, ictx)
		if err != nil {
			return models.RunStatusError, err.Error()
		}

		argv, err := shlex.Split(expanded)
		if err != nil {
			return models.RunStatusError, fmt.Sprintf("cannot parse command %q: %v", expanded, err)
		}
		if len(argv) == 0 {
			continue
		}

		log.Info().
			Str("env", def.Name).
			Int("seq", seq).
			Str("command", expanded).
			Msg("Running command")

		result, err := executor.ExecuteCommand(ctx, &execution.CommandSpec{
			Argv:    argv,
			Dir:     workdir,
			Env:     cmdEnv,
			Timeout: def.Timeout,
		})
		if err != nil {
			record.Commands = append(record.Commands, models.CommandRecord{
				Seq:     seq,
				Command: expanded,
			})
			return models.RunStatusError, fmt.Sprintf("command %q: %v", expanded, err)
		}

		record.Commands = append(record.Commands, models.CommandRecord{
			Seq:        seq,
			Command:    expanded,
			ExitCode:   result.ExitCode,
			Ignored:    ignoreExit && result.ExitCode != 0,
			TimedOut:   result.TimedOut,
			DurationMS: result.Duration.Milliseconds(),
			OutputTail: result.Output,
		})

		if result.ExitCode != 0 {
			if ignoreExit {
				log.Warn().
					Str("env", def.Name).
					Str("command", expanded).
					Int("exit_code", result.ExitCode).
					Msg("Ignoring command failure")
				continue
			}
			reason := fmt.Sprintf("command %q exited with code %d", expanded, result.ExitCode)
			if result.TimedOut {
				reason = fmt.Sprintf("command %q timed out after %s", expanded, def.Timeout)
			}
			return models.RunStatusFailed, reason
		}
	}

	return models.RunStatusSucceeded, ""
}

// resolveChangeDir expands changedir and anchors relative paths at the
// config file's directory.
func (s *Service) resolveChangeDir(def *models.EnvDefinition, ictx *interp.Context) (string, error) {
	if def.ChangeDir == "" {
		if def.Isolation == models.IsolationContainer {
			return "", nil
		}
		return s.project.BaseDir, nil
	}

	dir, err := interp.Expand(def.ChangeDir, ictx)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	if def.Isolation == models.IsolationContainer {
		// Relative to the mounted project root.
		return filepath.ToSlash(filepath.Join(environments.ContainerSrcDir, dir)), nil
	}
	return filepath.Join(s.project.BaseDir, dir), nil
}

func expandSetEnv(def *models.EnvDefinition, ictx *interp.Context, lookupEnv map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(def.SetEnv))
	for k, v := range def.SetEnv {
		expanded, err := interp.ExpandSetEnvValue(v, ictx, lookupEnv)
		if err != nil {
			return nil, fmt.Errorf("setenv %s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}

func (s *Service) saveRecord(record *models.RunRecord) {
	if s.history == nil {
		return
	}
	// History is best-effort: a storage problem never fails the run.
	if err := s.history.SaveRun(record); err != nil {
		log := gologger.WithComponent("runner")
		log.Warn().Err(err).Str("env", record.EnvName).Msg("Failed to persist run record")
	}
}
