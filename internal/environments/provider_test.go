package environments

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/envmatrix/envmatrix/internal/models"
)

func TestPaths(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("path layout differs on windows")
	}

	ws := Paths("/proj/.envmatrix", "py34")

	assert.Equal(t, "/proj/.envmatrix/py34", ws.EnvDir)
	assert.Equal(t, "/proj/.envmatrix/py34/tmp", ws.TmpDir)
	assert.Equal(t, "/proj/.envmatrix/py34/bin", ws.BinDir)
	assert.Equal(t, "/proj/.envmatrix/py34/bin/python", ws.Python)
}

func TestEnvHash(t *testing.T) {
	a := &models.EnvDefinition{BasePython: "python3.4", Deps: []string{"coverage", "pytest"}}
	b := &models.EnvDefinition{BasePython: "python3.4", Deps: []string{"coverage", "pytest"}}
	assert.Equal(t, envHash(a), envHash(b))

	// Any input change invalidates the venv.
	c := &models.EnvDefinition{BasePython: "python3.5", Deps: []string{"coverage", "pytest"}}
	assert.NotEqual(t, envHash(a), envHash(c))

	d := &models.EnvDefinition{BasePython: "python3.4", Deps: []string{"coverage", "pytest", "sqlalchemy"}}
	assert.NotEqual(t, envHash(a), envHash(d))

	// Dep boundaries matter: ["ab","c"] != ["a","bc"].
	e := &models.EnvDefinition{BasePython: "python3.4", Deps: []string{"coveragepytest"}}
	assert.NotEqual(t, envHash(a), envHash(e))
}

func TestCommandEnv(t *testing.T) {
	def := &models.EnvDefinition{
		Name:    "py34",
		PassEnv: []string{"CI", "TRAVIS_*"},
		SetEnv:  map[string]string{"PYTHONHASHSEED": "0", "LANG": "C"},
	}
	ws := Paths(filepath.Join("/proj", ".envmatrix"), "py34")

	hostEnv := []string{
		"PATH=/usr/bin:/bin",
		"HOME=/home/dev",
		"CI=true",
		"TRAVIS_BUILD_ID=42",
		"SECRET_TOKEN=hunter2",
		"LANG=en_US.UTF-8",
	}

	env := CommandEnv(def, ws, hostEnv)
	got := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := splitKV(kv)
		got[k] = v
	}

	// passenv patterns and the baseline set pass through.
	assert.Equal(t, "true", got["CI"])
	assert.Equal(t, "42", got["TRAVIS_BUILD_ID"])
	assert.Equal(t, "/home/dev", got["HOME"])

	// Unlisted host variables do not leak in.
	_, leaked := got["SECRET_TOKEN"]
	assert.False(t, leaked)

	// setenv overrides host values.
	assert.Equal(t, "C", got["LANG"])
	assert.Equal(t, "0", got["PYTHONHASHSEED"])

	// The workspace's bin dir leads PATH and VIRTUAL_ENV is set.
	assert.Equal(t, ws.BinDir+string(filepath.ListSeparator)+"/usr/bin:/bin", got["PATH"])
	assert.Equal(t, ws.EnvDir, got["VIRTUAL_ENV"])
	assert.Equal(t, "py34", got["ENVMATRIX_ENV"])
}

func TestCommandEnvContainerWorkspace(t *testing.T) {
	def := &models.EnvDefinition{Name: "py34"}
	ws := &Workspace{ContainerID: "abc123"}

	env := CommandEnv(def, ws, []string{"PATH=/usr/bin", "HOME=/home/dev"})
	got := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := splitKV(kv)
		got[k] = v
	}

	// Container workspaces keep the image's PATH and have no venv.
	assert.Equal(t, "/usr/bin", got["PATH"])
	_, hasVenv := got["VIRTUAL_ENV"]
	assert.False(t, hasVenv)
	assert.Equal(t, "py34", got["ENVMATRIX_ENV"])
}

func splitKV(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}
