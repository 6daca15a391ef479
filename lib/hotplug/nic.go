// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package hotplug

import (
	"context"
	"fmt"
	"strings"
)

// HotAddNIC attaches nic to the running instance as deviceID.
//
// Each tap descriptor is passed to the monitor and named
// "<deviceID>-<i>"; with vhost, each vhost descriptor is named
// "<deviceID>-vhost-<i>". The backend is created with netdev_add and
// the virtio-net-pci frontend with device_add at nic.PCI. Argument
// errors are reported before anything is sent.
func (o *Operator) HotAddNIC(ctx context.Context, nic NIC, deviceID string, tapFDs, vhostFDs []int, features NICFeatures) error {
	if len(tapFDs) == 0 {
		return &Error{Device: "NIC", Reason: "no tap descriptors given"}
	}
	if features.Vhost && len(vhostFDs) != len(tapFDs) {
		return &Error{
			Device: "NIC",
			Reason: fmt.Sprintf("vhost requested with %d vhost descriptors for %d tap descriptors", len(vhostFDs), len(tapFDs)),
		}
	}
	if features.MultiQueue && features.Queues < 1 {
		return &Error{Device: "NIC", Reason: fmt.Sprintf("multi-queue requested with %d queues", features.Queues)}
	}

	tapNames, err := o.nameDescriptors(ctx, tapFDs, deviceID+"-%d")
	if err != nil {
		return err
	}
	backend := map[string]any{
		"type": "tap",
		"id":   deviceID,
		"fds":  strings.Join(tapNames, ":"),
	}
	if features.Vhost {
		vhostNames, err := o.nameDescriptors(ctx, vhostFDs, deviceID+"-vhost-%d")
		if err != nil {
			return err
		}
		backend["vhost"] = "on"
		backend["vhostfds"] = strings.Join(vhostNames, ":")
	}
	if _, err := o.monitor.Execute(ctx, commandNetdevAdd, backend); err != nil {
		return fmt.Errorf("adding network backend %s: %w", deviceID, err)
	}

	frontend := map[string]any{
		"driver": nicDriver,
		"id":     deviceID,
		"bus":    pciBus,
		"addr":   pciAddress(nic.PCI),
		"netdev": deviceID,
		"mac":    nic.MAC,
	}
	if features.MultiQueue {
		frontend["mq"] = "on"
		frontend["vectors"] = 2*features.Queues + 1
	}
	if _, err := o.monitor.Execute(ctx, commandDeviceAdd, frontend); err != nil {
		return fmt.Errorf("adding NIC device %s: %w", deviceID, err)
	}

	o.logger.Info("NIC hot-added",
		"device", deviceID,
		"mac", nic.MAC,
		"pci_slot", nic.PCI,
		"queues", len(tapFDs),
		"vhost", features.Vhost,
	)
	return nil
}

func (o *Operator) nameDescriptors(ctx context.Context, fds []int, format string) ([]string, error) {
	names := make([]string, 0, len(fds))
	for i, fd := range fds {
		name := fmt.Sprintf(format, i)
		if err := o.monitor.NameDescriptor(ctx, fd, name); err != nil {
			return nil, fmt.Errorf("passing descriptor %s: %w", name, err)
		}
		names = append(names, name)
	}
	return names, nil
}

// HotDelNIC detaches the NIC frontend and then removes its backend.
func (o *Operator) HotDelNIC(ctx context.Context, deviceID string) error {
	if _, err := o.monitor.Execute(ctx, commandDeviceDel, map[string]any{"id": deviceID}); err != nil {
		return fmt.Errorf("removing NIC device %s: %w", deviceID, err)
	}
	if _, err := o.monitor.Execute(ctx, commandNetdevDel, map[string]any{"id": deviceID}); err != nil {
		return fmt.Errorf("removing network backend %s: %w", deviceID, err)
	}
	o.logger.Info("NIC hot-removed", "device", deviceID)
	return nil
}
