// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small socket helpers shared by the monitor
// client and the hot-plug agent.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection reset.
// A monitor that exits or closes its socket produces one of these on the
// client's next read or write, depending on timing, and callers treat
// them all as "the peer went away" rather than as an I/O fault.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
