package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envmatrix/envmatrix/internal/config"
)

// chdirTemp isolates the search path from any real .envmatrix.yaml.
func chdirTemp(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadConfigDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Parallel)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 50, cfg.History.Limit)
	assert.Equal(t, uint64(2), cfg.Install.Retries)
	assert.Equal(t, 2*time.Second, cfg.Install.Backoff)
	assert.Equal(t, 32*1024, cfg.Execution.OutputTail)
	assert.Equal(t, time.Duration(0), cfg.Execution.Timeout)
}

func TestLoadConfigFromFile(t *testing.T) {
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "envmatrix.yaml")
	content := `parallel: 4
history:
  enabled: false
  limit: 10
install:
  retries: 5
  backoff: 500ms
execution:
  output_tail: 1024
  timeout: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Parallel)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 10, cfg.History.Limit)
	assert.Equal(t, uint64(5), cfg.Install.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.Install.Backoff)
	assert.Equal(t, 1024, cfg.Execution.OutputTail)
	assert.Equal(t, 2*time.Minute, cfg.Execution.Timeout)
}

func TestLoadConfigSearchesWorkingDirectory(t *testing.T) {
	chdirTemp(t)

	content := "parallel: 3\n"
	require.NoError(t, os.WriteFile(".envmatrix.yaml", []byte(content), 0o644))

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Parallel)
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	chdirTemp(t)

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	chdirTemp(t)

	path := filepath.Join(t.TempDir(), "envmatrix.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history:\n  limit: 7\n"), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.History.Limit)
	assert.Equal(t, 1, cfg.Parallel)
	assert.True(t, cfg.History.Enabled)
}
