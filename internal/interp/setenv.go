package interp

import (
	"github.com/drone/envsubst"
)

// ExpandSetEnvValue expands a setenv value: shell-style ${VAR}
// references against the host environment first, then {placeholder}
// syntax. ${VAR} goes first so its inner braces never reach the
// placeholder scanner.
func ExpandSetEnvValue(s string, ctx *Context, hostEnv map[string]string) (string, error) {
	substituted, err := envsubst.Eval(s, func(name string) string {
		return hostEnv[name]
	})
	if err != nil {
		return "", err
	}
	return Expand(substituted, ctx)
}
