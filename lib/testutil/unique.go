// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use it for device ids and instance
// names that must not collide between tests sharing a process.
//
//	deviceID := testutil.UniqueID("hotnic")  // "hotnic-1", "hotnic-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
