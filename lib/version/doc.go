// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for hvkit
// binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// These default to "unknown" / "0.1.0-dev" when not injected, which
// occurs during development builds and test runs.
//
// Formatting functions:
//
//   - [Info] -- "0.1.0-dev (abc1234, 2026-...)" for --version
//   - [Banner] -- Info prefixed with the program name
//   - [Full] -- Info plus Go version and GOOS/GOARCH ("hvkit version")
//   - [Short], [Commit] -- the labels of hvkit_hotplugd_build_info
//
// For example:
//
//	go build -ldflags "-X github.com/hvkit/hvkit/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
