package environments

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/sethvargo/go-retry"
	"github.com/theblitlabs/gologger"

	"github.com/envmatrix/envmatrix/internal/execution"
	"github.com/envmatrix/envmatrix/internal/models"
)

// hashFileName stores the definition hash a venv was built from.
const hashFileName = ".matrix-hash"

// VenvProvider provisions per-environment interpreter venvs under the
// project work directory. A venv is reused across runs until its base
// interpreter or dependency set changes, then rebuilt from scratch.
type VenvProvider struct {
	workDir        string
	outputTail     int
	installRetries uint64
	installBackoff time.Duration
}

func NewVenvProvider(workDir string, outputTail int, installRetries uint64, installBackoff time.Duration) *VenvProvider {
	return &VenvProvider{
		workDir:        workDir,
		outputTail:     outputTail,
		installRetries: installRetries,
		installBackoff: installBackoff,
	}
}

// envHash fingerprints the inputs a venv is built from.
func envHash(def *models.EnvDefinition) string {
	h := sha256.New()
	h.Write([]byte(def.BasePython))
	for _, dep := range def.Deps {
		h.Write([]byte{0})
		h.Write([]byte(dep))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (p *VenvProvider) Provision(ctx context.Context, def *models.EnvDefinition) (*Workspace, error) {
	log := gologger.WithComponent("environments.venv")

	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	ws := Paths(p.workDir, def.Name)

	// One process at a time per environment directory.
	lock := flock.New(ws.EnvDir + ".lock")
	locked, err := lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to lock environment %s: %w", def.Name, err)
	}
	if !locked {
		return nil, fmt.Errorf("environment %s is locked by another process", def.Name)
	}
	ws.lock = lock

	wantHash := envHash(def)
	haveHash, _ := os.ReadFile(filepath.Join(ws.EnvDir, hashFileName))

	if len(haveHash) > 0 && strings.TrimSpace(string(haveHash)) != wantHash {
		log.Info().
			Str("env", def.Name).
			Msg("Environment definition changed, recreating venv")
		if err := os.RemoveAll(ws.EnvDir); err != nil {
			releaseLock(ws)
			return nil, fmt.Errorf("failed to remove stale venv: %w", err)
		}
	}

	if _, err := os.Stat(ws.Python); err != nil {
		log.Info().
			Str("env", def.Name).
			Str("basepython", def.BasePython).
			Str("envdir", ws.EnvDir).
			Msg("Creating venv")
		if _, err := execution.RunQuiet(ctx, def.BasePython, "-m", "venv", ws.EnvDir); err != nil {
			releaseLock(ws)
			return nil, fmt.Errorf("venv creation failed for %s: %w", def.Name, err)
		}
	}

	// envtmpdir starts empty on every run.
	if err := os.RemoveAll(ws.TmpDir); err != nil {
		releaseLock(ws)
		return nil, fmt.Errorf("failed to reset env tmp dir: %w", err)
	}
	if err := os.MkdirAll(ws.TmpDir, 0o755); err != nil {
		releaseLock(ws)
		return nil, fmt.Errorf("failed to create env tmp dir: %w", err)
	}

	return ws, nil
}

func (p *VenvProvider) InstallDeps(ctx context.Context, ws *Workspace, def *models.EnvDefinition) error {
	log := gologger.WithComponent("environments.venv")

	hashPath := filepath.Join(ws.EnvDir, hashFileName)
	wantHash := envHash(def)

	if def.SkipInstall || len(def.Deps) == 0 {
		return writeHash(hashPath, wantHash)
	}

	if haveHash, err := os.ReadFile(hashPath); err == nil && strings.TrimSpace(string(haveHash)) == wantHash {
		log.Debug().Str("env", def.Name).Msg("Dependencies up to date")
		return nil
	}

	pip := filepath.Join(ws.BinDir, "pip")
	args := append([]string{"install"}, def.Deps...)

	log.Info().
		Str("env", def.Name).
		Strs("deps", def.Deps).
		Msg("Installing dependencies")

	// Installs hit the network, so transient failures get retried
	// with capped exponential backoff.
	backoff := retry.WithMaxRetries(p.installRetries, retry.NewExponential(p.installBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := execution.RunQuiet(ctx, pip, args...); err != nil {
			log.Warn().Err(err).Str("env", def.Name).Msg("Dependency install attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dependency install failed for %s: %w", def.Name, err)
	}

	return writeHash(hashPath, wantHash)
}

func (p *VenvProvider) Executor(ws *Workspace) execution.CommandExecutor {
	return execution.NewLocalExecutor(p.outputTail)
}

func (p *VenvProvider) Cleanup(ctx context.Context, ws *Workspace) error {
	releaseLock(ws)
	return nil
}

func writeHash(path, hash string) error {
	if err := os.WriteFile(path, []byte(hash), 0o644); err != nil {
		return fmt.Errorf("failed to record environment hash: %w", err)
	}
	return nil
}

func releaseLock(ws *Workspace) {
	if ws.lock != nil {
		if err := ws.lock.Unlock(); err != nil {
			log := gologger.WithComponent("environments.venv")
			log.Warn().Err(err).Str("envdir", ws.EnvDir).Msg("Failed to release environment lock")
		}
		ws.lock = nil
	}
}
