// Package config carries ambient, environment-driven toolkit configuration:
// verbose/trace mode and a default target triple override. Nothing in the
// binary-format engine depends on process-wide state beyond this.
package config

import env "github.com/xyproto/env/v2"

// Verbose reports whether diagnostics at Trace severity should be printed
// as they are collected, controlled by FORGE_VERBOSE.
func Verbose() bool {
	return env.Bool("FORGE_VERBOSE")
}

// DefaultTriple returns the FORGE_TARGET override, or "" if unset, letting
// callers fall back to target.Host().
func DefaultTriple() string {
	return env.Str("FORGE_TARGET", "")
}

// MaxDiagnostics bounds how many non-fatal diagnostics a single pipeline
// stage collects before it gives up, controlled by FORGE_MAX_DIAGNOSTICS.
func MaxDiagnostics() int {
	return env.Int("FORGE_MAX_DIAGNOSTICS", 64)
}
