package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/envmatrix/envmatrix/internal/environments"
	"github.com/envmatrix/envmatrix/internal/interp"
	"github.com/envmatrix/envmatrix/internal/models"
)

// RunShow prints one environment's fully resolved definition with
// placeholders substituted the way a run would see them (no posargs).
func RunShow(configPath, envName string) error {
	project, err := loadProject(configPath)
	if err != nil {
		return err
	}

	def, err := project.Resolve(envName)
	if err != nil {
		return err
	}

	ws := environments.Paths(project.WorkDir, envName)

	hostEnv := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				hostEnv[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	ictx := &interp.Context{
		EnvName:   envName,
		EnvDir:    ws.EnvDir,
		EnvTmpDir: ws.TmpDir,
		EnvBinDir: ws.BinDir,
		EnvPython: ws.Python,
		ConfDir:   project.BaseDir,
		WorkDir:   project.WorkDir,
		File:      project.File,
		Lookup: func(key string) (string, bool) {
			if v, ok := def.SetEnv[key]; ok {
				return v, true
			}
			v, ok := hostEnv[key]
			return v, ok
		},
	}

	fmt.Printf("[testenv:%s]\n", envName)
	if def.Description != "" {
		fmt.Printf("description = %s\n", def.Description)
	}
	fmt.Printf("basepython = %s\n", def.BasePython)
	fmt.Printf("isolation = %s\n", def.Isolation)
	if def.Isolation == models.IsolationContainer {
		fmt.Printf("container_image = %s\n", def.ContainerImage)
	}
	fmt.Printf("envdir = %s\n", ws.EnvDir)
	if def.ChangeDir != "" {
		dir, err := interp.Expand(def.ChangeDir, ictx)
		if err != nil {
			return err
		}
		fmt.Printf("changedir = %s\n", dir)
	}
	if def.SkipInstall {
		fmt.Println("skip_install = true")
	}
	if def.Timeout > 0 {
		fmt.Printf("timeout = %s\n", def.Timeout)
	}

	if len(def.Deps) > 0 {
		fmt.Println("deps =")
		for _, dep := range def.Deps {
			fmt.Printf("    %s\n", dep)
		}
	}

	if len(def.SetEnv) > 0 {
		keys := make([]string, 0, len(def.SetEnv))
		for k := range def.SetEnv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("setenv =")
		for _, k := range keys {
			fmt.Printf("    %s=%s\n", k, def.SetEnv[k])
		}
	}

	if len(def.PassEnv) > 0 {
		fmt.Println("passenv =")
		for _, p := range def.PassEnv {
			fmt.Printf("    %s\n", p)
		}
	}

	fmt.Println("commands =")
	for _, raw := range def.Commands {
		expanded, err := interp.Expand(raw, ictx)
		if err != nil {
			return err
		}
		fmt.Printf("    %s\n", expanded)
	}

	return nil
}
