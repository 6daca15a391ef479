// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the hvkit CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in cmd/hvkit and
// dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3).
//
// Commands report failures as [ToolError] values carrying an
// [ErrorCategory]; main maps categories to exit codes with [ExitCodeFor].
// Output helpers render JSON with terminal syntax highlighting
// ([WriteJSON]) and aligned tables with a styled header row
// ([WriteTable]). Both degrade to plain text when the destination is
// not a color terminal.
package cli
