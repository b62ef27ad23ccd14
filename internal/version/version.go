// Package version exposes the tool version used by the CLI and the
// config minversion gate.
package version

// Version is overridable at build time via -ldflags.
var Version = "1.3.0"
