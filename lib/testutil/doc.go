// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for hvkit packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets. Unix domain sockets have a 108-byte path limit
// (sun_path in sockaddr_un) and t.TempDir() paths under deeply nested
// TMPDIR settings can exceed it.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) used when a test
// waits for a mock monitor or server goroutine.
//
// [WaitForSocket] polls for a server socket file to appear.
//
// [UniqueID] generates monotonically increasing identifiers for device
// ids and instance names in tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no hvkit-internal dependencies.
package testutil
