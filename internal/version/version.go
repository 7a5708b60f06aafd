// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/bfx-stream/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/bfx-stream/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import "runtime/debug"

// Build-time variables (set via ldflags)
var (
	Version = "dev"
	Commit  = "unknown"
)

// String returns a formatted version string. Without ldflags the VCS
// revision embedded by the Go toolchain is used for the commit.
func String() string {
	return Version + " (" + commit() + ")"
}

// UserAgent identifies the streamer on outbound HTTP requests.
func UserAgent() string {
	return "bfx-stream/" + Version
}

func commit() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return Commit
}
