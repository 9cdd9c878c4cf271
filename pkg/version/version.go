// Package version holds build version information.
package version

// Version is the corpusmcp release version, overridable at build time via
// -ldflags "-X github.com/Aman-CERP/corpusmcp/pkg/version.Version=...".
var Version = "0.3.0"
