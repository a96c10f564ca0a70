package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Build-time variables injected via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// Info returns the release version. Development builds fall back to the
// module version recorded by the Go toolchain, if any.
func Info() string {
	if Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return Version
}

// shortCommit returns the first 7 characters of the commit hash.
func shortCommit() string {
	if len(GitCommit) > 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// Full returns version plus commit.
func Full() string {
	info := Info()
	if c := shortCommit(); c != "" && c != "unknown" && !strings.Contains(info, c) {
		info += fmt.Sprintf(" (%s)", c)
	}
	return info
}

// BuildInfo is the structured form printed by "version --json".
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns structured build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Info(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// UserAgent returns a user agent string for HTTP clients
func UserAgent() string {
	return fmt.Sprintf("dupeguard/%s", Info())
}
