// Package version holds the build-time version string every binary
// logs at startup and reports in its help text.
package version

// V is overridden at build time via -ldflags "-X relaywright.dev/pkg/version.V=...".
var V = "v0.0.0-dev"
