// Package interp expands {placeholder} expressions in configuration
// values: run-time paths ({envdir}, {envtmpdir}, ...), CLI passthrough
// args ({posargs}), host environment lookups ({env:VAR:default}) and
// cross-section references ({[section]key}).
package interp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/envmatrix/envmatrix/internal/inifile"
)

// ErrPlaceholder is wrapped by all substitution failures.
var ErrPlaceholder = errors.New("placeholder error")

// Context carries everything a placeholder can resolve against.
type Context struct {
	EnvName   string
	EnvDir    string
	EnvTmpDir string
	EnvBinDir string
	EnvPython string
	ConfDir   string
	WorkDir   string

	PosArgs []string

	// Lookup resolves {env:VAR}: host environment merged with the
	// project .env file and the environment's setenv.
	Lookup func(string) (string, bool)

	// File backs {[section]key} references.
	File *inifile.File
}

// maxDepth bounds nested section references so that mutually
// recursive values fail instead of looping.
const maxDepth = 16

// Expand substitutes every placeholder in s. {{ and }} escape to
// literal braces. Unknown or unresolvable placeholders are errors.
func Expand(s string, ctx *Context) (string, error) {
	return expand(s, ctx, 0)
}

func expand(s string, ctx *Context, depth int) (string, error) {
	if depth > maxDepth {
		return "", fmt.Errorf("%w: placeholder nesting too deep in %q", ErrPlaceholder, s)
	}

	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				out.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated placeholder in %q", ErrPlaceholder, s)
			}
			expr := s[i+1 : i+end]
			val, err := resolve(expr, ctx, depth)
			if err != nil {
				return "", err
			}
			out.WriteString(val)
			i += end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				out.WriteByte('}')
				i += 2
				continue
			}
			out.WriteByte('}')
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), nil
}

func resolve(expr string, ctx *Context, depth int) (string, error) {
	switch {
	case expr == "posargs" || strings.HasPrefix(expr, "posargs:"):
		if len(ctx.PosArgs) > 0 {
			return joinPosArgs(ctx.PosArgs), nil
		}
		if _, def, ok := strings.Cut(expr, ":"); ok {
			return def, nil
		}
		return "", nil

	case strings.HasPrefix(expr, "env:"):
		return resolveEnv(expr[len("env:"):], ctx)

	case strings.HasPrefix(expr, "["):
		return resolveSectionRef(expr, ctx, depth)
	}

	switch expr {
	case "envname":
		return ctx.EnvName, nil
	case "envdir":
		return ctx.EnvDir, nil
	case "envtmpdir":
		return ctx.EnvTmpDir, nil
	case "envbindir":
		return ctx.EnvBinDir, nil
	case "envpython":
		return ctx.EnvPython, nil
	case "confdir", "toxinidir":
		return ctx.ConfDir, nil
	case "workdir":
		return ctx.WorkDir, nil
	}

	return "", fmt.Errorf("%w: unknown placeholder {%s}", ErrPlaceholder, expr)
}

// joinPosArgs renders posargs as one command fragment whose word
// boundaries survive the later word split: args containing whitespace
// or quoting characters are single-quoted.
func joinPosArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quoteWord(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteWord(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func resolveEnv(spec string, ctx *Context) (string, error) {
	name, def, hasDefault := strings.Cut(spec, ":")
	if name == "" {
		return "", fmt.Errorf("%w: empty variable name in {env:%s}", ErrPlaceholder, spec)
	}

	if ctx.Lookup != nil {
		if v, ok := ctx.Lookup(name); ok {
			return v, nil
		}
	}
	if hasDefault {
		return def, nil
	}
	return "", fmt.Errorf("%w: environment variable %q is not set and has no default", ErrPlaceholder, name)
}

func resolveSectionRef(expr string, ctx *Context, depth int) (string, error) {
	end := strings.IndexByte(expr, ']')
	if end < 0 {
		return "", fmt.Errorf("%w: malformed section reference {%s}", ErrPlaceholder, expr)
	}

	section := expr[1:end]
	key := expr[end+1:]
	if section == "" || key == "" {
		return "", fmt.Errorf("%w: malformed section reference {%s}", ErrPlaceholder, expr)
	}
	if ctx.File == nil {
		return "", fmt.Errorf("%w: no configuration available for {%s}", ErrPlaceholder, expr)
	}

	v, ok := ctx.File.Lookup(section, key)
	if !ok {
		return "", fmt.Errorf("%w: {[%s]%s} does not exist", ErrPlaceholder, section, key)
	}

	// Referenced values may themselves contain placeholders.
	return expand(v, ctx, depth+1)
}
