// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package tap

import "os"

// Open returns ErrUnsupported.
func Open(Options) (*Device, error) {
	return nil, ErrUnsupported
}

// OpenVhostNet returns ErrUnsupported.
func OpenVhostNet(int) ([]*os.File, error) {
	return nil, ErrUnsupported
}
