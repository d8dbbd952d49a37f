package version

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via ldflags.
var (
	// Release is the release version (e.g., "v1.0.0-abc1234").
	Release = "dev"
	// GitCommit is the short git commit hash.
	GitCommit = "unknown"
)

// Full returns the release, commit and platform on separate lines.
func Full() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nOS/Arch: %s/%s",
		Release, GitCommit, runtime.GOOS, runtime.GOARCH)
}

// Short returns the release and commit.
func Short() string {
	return fmt.Sprintf("%s (%s)", Release, GitCommit)
}
