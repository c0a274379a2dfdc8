// Package version carries the build metadata stamped in by the linker:
//
//	go build -ldflags "-X github.com/jvmscope/jvmscope/pkg/version.Version=v0.3.0" ./cmd/jvmscope
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

func init() {
	if GitCommit != "unknown" {
		return
	}
	// Fall back to the VCS stamp of plain `go build` binaries.
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			GitCommit = s.Value
		case "vcs.time":
			if BuildDate == "unknown" {
				BuildDate = s.Value
			}
		}
	}
}

// String is the one-line form logged at startup.
func String() string {
	commit := GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("jvmscope/%s (%s, %s)", Version, commit, GoVersion)
}
