// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package qmp

import (
	"net"

	"golang.org/x/sys/unix"
)

// unixRightsSender passes descriptors as SCM_RIGHTS ancillary data on a
// single space byte, which the monitor's JSON parser skips as
// whitespace.
type unixRightsSender struct{}

func (unixRightsSender) SendDescriptor(conn *net.UnixConn, fd int) error {
	_, _, err := conn.WriteMsgUnix([]byte{' '}, unix.UnixRights(fd), nil)
	return err
}

// DefaultDescriptorSender returns the SCM_RIGHTS sender.
func DefaultDescriptorSender() DescriptorSender {
	return unixRightsSender{}
}
