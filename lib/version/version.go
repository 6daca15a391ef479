// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// These variables are set via -ldflags at build time, for both hvkit
// and hvkit-hotplugd:
//
//	pkg=github.com/hvkit/hvkit/lib/version
//	go build -ldflags "-X $pkg.Version=0.3.0 \
//	    -X $pkg.GitCommit=$(git rev-parse --short HEAD) \
//	    -X $pkg.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/...
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the release version, set by the release build.
	Version = "0.1.0-dev"
)

// Short returns the bare version number.
func Short() string {
	return Version
}

// Commit returns the git SHA, suffixed with -dirty for builds from a
// modified tree.
func Commit() string {
	if GitDirty == "true" {
		return GitCommit + "-dirty"
	}
	return GitCommit
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit(), BuildTime)
}

// Banner prefixes Info with the program name, as printed by
// "hvkit-hotplugd --version" and logged at agent startup.
func Banner(program string) string {
	return program + " " + Info()
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
