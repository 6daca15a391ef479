// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for hvkit
// components.
//
// Configuration is loaded from a single file specified by either the
// HVKIT_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults are quieter: the
// hot-plug agent logs at info level and does not retry monitor
// connections more than twice.
//
// Variable expansion is performed on path fields after loading:
// ${HVKIT_ROOT}, ${HOME}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Monitor, Agent, NIC
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.MonitorSocket] -- resolves an instance name to its QMP socket
//
// This package depends on no other hvkit packages.
package config
