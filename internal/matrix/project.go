// Package matrix loads a project's environment-matrix configuration and
// resolves individual environment definitions from it.
package matrix

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/theblitlabs/gologger"

	"github.com/envmatrix/envmatrix/internal/inifile"
	"github.com/envmatrix/envmatrix/internal/models"
)

const (
	globalSection  = "matrix"
	baseEnvSection = "testenv"
	envSectionPfx  = "testenv:"

	// DefaultWorkDir is where environments live, relative to the config file.
	DefaultWorkDir = ".envmatrix"
)

// DefaultFileNames are tried in order when no config path is given.
var DefaultFileNames = []string{"matrix.ini", "tox.ini"}

// ErrUnknownEnv is returned when a requested environment is neither
// listed in envlist nor declared as a [testenv:<name>] section.
var ErrUnknownEnv = errors.New("unknown environment")

// Project is a loaded environment-matrix configuration.
type Project struct {
	File    *inifile.File
	Path    string
	BaseDir string

	WorkDir    string
	EnvList    []string
	MinVersion string
}

// Locate returns the config file to use: the explicit path when given,
// otherwise the first default file name present in dir.
func Locate(dir, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %w", err)
		}
		return explicit, nil
	}

	for _, name := range DefaultFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no %s found in %s", strings.Join(DefaultFileNames, " or "), dir)
}

// Load parses the config file at path and extracts the global section.
func Load(path string) (*Project, error) {
	log := gologger.WithComponent("matrix")

	file, err := inifile.Parse(path)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	p := &Project{
		File:    file,
		Path:    abs,
		BaseDir: filepath.Dir(abs),
	}

	// [tox] is accepted as an alias for [matrix] so existing tox.ini
	// files load unchanged.
	global, ok := file.Section(globalSection)
	if !ok {
		global, ok = file.Section("tox")
	}
	if ok {
		if v, found := global.Get("envlist"); found {
			p.EnvList = inifile.SplitList(v)
		}
		if v, found := global.Get("minversion"); found {
			p.MinVersion = strings.TrimSpace(v)
		}
		if v, found := global.Get("workdir"); found {
			p.WorkDir = strings.TrimSpace(v)
		}
	}

	if p.WorkDir == "" {
		p.WorkDir = DefaultWorkDir
	}
	if !filepath.IsAbs(p.WorkDir) {
		p.WorkDir = filepath.Join(p.BaseDir, p.WorkDir)
	}

	if len(p.EnvList) == 0 {
		p.EnvList = p.declaredEnvs()
	}

	log.Debug().
		Str("path", abs).
		Strs("envlist", p.EnvList).
		Str("workdir", p.WorkDir).
		Msg("Configuration loaded")

	return p, nil
}

// declaredEnvs lists environments that have their own section, in file order.
func (p *Project) declaredEnvs() []string {
	var names []string
	for _, section := range p.File.SectionNames() {
		if strings.HasPrefix(section, envSectionPfx) {
			names = append(names, strings.TrimPrefix(section, envSectionPfx))
		}
	}
	return names
}

// EnvNames returns all known environments: the envlist plus any
// [testenv:<name>] sections not already listed, preserving order.
func (p *Project) EnvNames() []string {
	seen := make(map[string]struct{}, len(p.EnvList))
	names := make([]string, 0, len(p.EnvList))
	for _, n := range p.EnvList {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	for _, n := range p.declaredEnvs() {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	return names
}

// HasEnv reports whether name is a known environment.
func (p *Project) HasEnv(name string) bool {
	if p.File.HasSection(envSectionPfx + name) {
		return true
	}
	for _, n := range p.EnvList {
		if n == name {
			return true
		}
	}
	return false
}

// lookup fetches key from [testenv:<name>] falling back to [testenv].
func (p *Project) lookup(name, key string) (string, bool) {
	if v, ok := p.File.Lookup(envSectionPfx+name, key); ok {
		return v, true
	}
	return p.File.Lookup(baseEnvSection, key)
}

// Resolve builds the full definition for the named environment by
// merging its own section over the [testenv] base section.
func (p *Project) Resolve(name string) (*models.EnvDefinition, error) {
	if !p.HasEnv(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnv, name)
	}

	def := &models.EnvDefinition{
		Name:      name,
		Isolation: models.IsolationVenv,
		SetEnv:    make(map[string]string),
	}

	if v, ok := p.lookup(name, "description"); ok {
		def.Description = strings.TrimSpace(v)
	}
	if v, ok := p.lookup(name, "basepython"); ok {
		def.BasePython = strings.TrimSpace(v)
	} else {
		def.BasePython = models.DefaultBasePython(name)
	}
	if v, ok := p.lookup(name, "changedir"); ok {
		def.ChangeDir = strings.TrimSpace(v)
	}
	if v, ok := p.lookup(name, "deps"); ok {
		def.Deps = inifile.SplitLines(v)
	}
	if v, ok := p.lookup(name, "commands"); ok {
		def.Commands = inifile.SplitLines(v)
	}
	if v, ok := p.lookup(name, "passenv"); ok {
		def.PassEnv = inifile.SplitList(v)
	}
	if v, ok := p.lookup(name, "skip_install"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("environment %q: invalid skip_install value %q", name, v)
		}
		def.SkipInstall = b
	}
	if v, ok := p.lookup(name, "isolation"); ok {
		def.Isolation = models.Isolation(strings.TrimSpace(v))
	}
	if v, ok := p.lookup(name, "container_image"); ok {
		def.ContainerImage = strings.TrimSpace(v)
	}
	if v, ok := p.lookup(name, "timeout"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("environment %q: invalid timeout %q: %w", name, v, err)
		}
		def.Timeout = d
	}
	if v, ok := p.lookup(name, "setenv"); ok {
		for _, line := range inifile.SplitLines(v) {
			key, value, found := strings.Cut(line, "=")
			if !found || strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("environment %q: invalid setenv line %q", name, line)
			}
			def.SetEnv[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}
