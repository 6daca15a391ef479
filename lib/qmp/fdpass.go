// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	getFDCommand    = "getfd"
	addFDCommand    = "add-fd"
	removeFDCommand = "remove-fd"
)

// FDSetPath returns the synthetic path through which the monitor opens a
// descriptor held in fd-set id.
func FDSetPath(id int) string {
	return fmt.Sprintf("/dev/fdset/%d", id)
}

// DescriptorSender transfers an open descriptor to the process at the
// other end of a Unix socket. The only implementation uses SCM_RIGHTS
// ancillary data; platforms without it have no sender at all, which
// surfaces as ErrDescriptorPassingUnsupported and as a failed hot-plug
// preflight rather than a mid-operation failure.
type DescriptorSender interface {
	SendDescriptor(conn *net.UnixConn, fd int) error
}

// CanPassDescriptors reports whether this connection can transfer
// descriptors to the monitor.
func (c *Connection) CanPassDescriptors() bool {
	return c.sender != nil
}

// NameDescriptor transfers fd to the monitor and binds it to name with
// the getfd command. Device arguments may then refer to the descriptor
// by name.
func (c *Connection) NameDescriptor(ctx context.Context, fd int, name string) error {
	if err := c.transferDescriptor(getFDCommand, fd); err != nil {
		c.logger.Info("passing descriptor via SCM_RIGHTS failed", "fd", fd, "error", err)
		return err
	}
	if _, err := c.Execute(ctx, getFDCommand, map[string]any{"fdname": name}); err != nil {
		c.logger.Info("naming passed descriptor failed", "fd", fd, "name", name, "error", err)
		return err
	}
	return nil
}

// AddDescriptorToSet transfers fd to the monitor and adds it to a new
// fd-set allocated by the monitor. The returned id addresses the set,
// both through FDSetPath and in ReleaseDescriptorSet.
func (c *Connection) AddDescriptorToSet(ctx context.Context, fd int) (int, error) {
	if err := c.transferDescriptor(addFDCommand, fd); err != nil {
		c.logger.Info("passing descriptor via SCM_RIGHTS failed", "fd", fd, "error", err)
		return 0, err
	}

	// No fdset-id argument: the monitor allocates a fresh set.
	var result struct {
		FDSetID *int `json:"fdset-id"`
	}
	if err := c.ExecuteInto(ctx, addFDCommand, nil, &result); err != nil {
		c.logger.Info("adding passed descriptor to fd-set failed", "fd", fd, "error", err)
		return 0, err
	}
	if result.FDSetID == nil {
		return 0, &SerializationError{Err: fmt.Errorf("%s reply carries no fdset-id", addFDCommand)}
	}
	return *result.FDSetID, nil
}

// ReleaseDescriptorSet removes every descriptor from fd-set id. Failure
// is logged and otherwise ignored: an unreleased set leaks a descriptor
// in the monitor process but does not undo the operation that used it.
func (c *Connection) ReleaseDescriptorSet(ctx context.Context, id int) {
	// Omitting the fd argument removes all descriptors in the set.
	if _, err := c.Execute(ctx, removeFDCommand, map[string]any{"fdset-id": id}); err != nil {
		c.logger.Warn("releasing fd-set failed", "fdset", id, "error", err)
	}
}

// transferDescriptor sends fd out of band. The consuming command is
// checked first so that an unsupported command never leaves an unnamed
// descriptor behind in the monitor.
func (c *Connection) transferDescriptor(consumer string, fd int) error {
	if err := c.checkCommand(consumer); err != nil {
		return err
	}
	if c.sender == nil {
		return ErrDescriptorPassingUnsupported
	}
	conn, err := c.socket.unixConn()
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.socket.receiveTimeout)); err != nil {
		return c.invalidate(&CommunicationError{Op: "transfer descriptor", Err: err})
	}
	if err := c.sender.SendDescriptor(conn, fd); err != nil {
		return c.invalidate(classifyIOError("transfer descriptor", err))
	}
	return nil
}
