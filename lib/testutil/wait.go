// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"runtime"
	"time"
)

// WaitForSocket blocks until a file exists at path, or fails the test
// after timeout. Servers create their socket file before accepting, so
// its appearance means a dial will not be refused.
func WaitForSocket(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket %s did not appear within %v", path, timeout)
		}
		runtime.Gosched()
	}
}
