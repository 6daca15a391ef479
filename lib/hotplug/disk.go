// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package hotplug

import (
	"context"
	"fmt"
	"os"

	"github.com/hvkit/hvkit/lib/qmp"
)

// HotAddDisk attaches the block device at uri to the running instance
// as deviceID.
//
// When uri can be opened locally, the descriptor is passed to the
// monitor in a fresh fd-set and the backend opens it through the fd-set
// path. Otherwise (for example a userspace URI the host cannot open)
// the URI itself is handed to the backend. The fd-set is released once
// blockdev-add has run, whether or not it succeeded.
func (o *Operator) HotAddDisk(ctx context.Context, disk Disk, deviceID, uri string) error {
	filename := uri
	fdset, passed, err := o.passBackingFile(ctx, uri)
	if err != nil {
		return err
	}
	if passed {
		filename = qmp.FDSetPath(fdset)
	}

	backend := map[string]any{
		"options": map[string]any{
			"driver": "raw",
			"id":     deviceID,
			"file": map[string]any{
				"driver":   "file",
				"filename": filename,
			},
		},
	}
	_, err = o.monitor.Execute(ctx, commandBlockdevAdd, backend)
	if passed {
		o.monitor.ReleaseDescriptorSet(ctx, fdset)
	}
	if err != nil {
		return fmt.Errorf("adding block backend %s: %w", deviceID, err)
	}

	frontend := map[string]any{
		"driver": diskDriver,
		"id":     deviceID,
		"bus":    pciBus,
		"addr":   pciAddress(disk.PCI),
		"drive":  deviceID,
	}
	if _, err := o.monitor.Execute(ctx, commandDeviceAdd, frontend); err != nil {
		return fmt.Errorf("adding disk device %s: %w", deviceID, err)
	}

	o.logger.Info("disk hot-added",
		"device", deviceID,
		"pci_slot", disk.PCI,
		"fdset", passed,
	)
	return nil
}

// passBackingFile opens uri and hands the descriptor to the monitor.
// passed is false when the open fails, which is not an error.
func (o *Operator) passBackingFile(ctx context.Context, uri string) (fdset int, passed bool, err error) {
	file, err := os.OpenFile(uri, os.O_RDWR, 0)
	if err != nil {
		o.logger.Warn("cannot open disk locally, passing the URI to the monitor",
			"uri", uri,
			"error", err,
		)
		return 0, false, nil
	}
	// The monitor holds its own copy once add-fd returns.
	defer file.Close()

	fdset, err = o.monitor.AddDescriptorToSet(ctx, int(file.Fd()))
	if err != nil {
		return 0, false, fmt.Errorf("passing disk %s to the monitor: %w", uri, err)
	}
	return fdset, true, nil
}

// HotDelDisk detaches the disk frontend. The block backend is left in
// place: this protocol version has no command to remove it.
func (o *Operator) HotDelDisk(ctx context.Context, deviceID string) error {
	if _, err := o.monitor.Execute(ctx, commandDeviceDel, map[string]any{"id": deviceID}); err != nil {
		return fmt.Errorf("removing disk device %s: %w", deviceID, err)
	}
	o.logger.Info("disk hot-removed", "device", deviceID)
	return nil
}
