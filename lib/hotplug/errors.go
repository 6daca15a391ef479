// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package hotplug

import (
	"errors"
	"fmt"
)

// ErrNoFreePCISlot is returned by FreePCISlot when every slot on the
// first bus is occupied.
var ErrNoFreePCISlot = errors.New("hotplug: all PCI slots are occupied")

// Error reports that a hot-plug operation cannot be attempted: the
// monitor lacks a required capability, or the arguments are
// inconsistent. It is returned before any state-changing command is
// sent and does not invalidate the monitor connection.
type Error struct {
	// Device is "NIC" or "disk".
	Device string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("hotplug: cannot hot-add %s: %s", e.Device, e.Reason)
}

// IsPreflight reports whether err is (or wraps) a hot-plug *Error.
func IsPreflight(err error) bool {
	var hotplugError *Error
	return errors.As(err, &hotplugError)
}
