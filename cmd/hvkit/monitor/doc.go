// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor implements the "hvkit qmp" commands, which talk to an
// instance's QMP monitor directly:
//
//   - info: negotiated version, package string, and command count.
//   - commands: the monitor's supported command catalogue.
//   - exec: run an arbitrary command with JSONC arguments and print
//     the reply.
//
// Every subcommand opens a fresh connection, completes the handshake,
// runs, and closes the connection.
package monitor
