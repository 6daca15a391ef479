// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for hvkit binaries: fatal
// error reporting to stderr for failures that happen before (or
// without) the structured logger.
package process
