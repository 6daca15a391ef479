// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package qmp

// DefaultDescriptorSender returns nil: this platform has no ancillary
// data transfer, so descriptor-based hot-plug is unavailable.
func DefaultDescriptorSender() DescriptorSender {
	return nil
}
