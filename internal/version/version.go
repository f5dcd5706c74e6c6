// Package version carries build identification stamped in by the release
// pipeline via -ldflags.
package version

var (
	// Version is the current motiond version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
