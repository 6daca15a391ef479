// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package hotplug

import (
	"context"
	"fmt"
)

// PCISlots is the number of slots on the bus devices are hot-plugged
// into.
const PCISlots = 32

// PCIDevice is one device on the first PCI bus as reported by query-pci.
type PCIDevice struct {
	Slot int    `json:"slot"`
	ID   string `json:"qdev_id"`
}

type pciBusInfo struct {
	Bus     int         `json:"bus"`
	Devices []PCIDevice `json:"devices"`
}

// PCIDevices returns the devices of the instance's first PCI bus.
func (o *Operator) PCIDevices(ctx context.Context) ([]PCIDevice, error) {
	var buses []pciBusInfo
	if err := o.monitor.ExecuteInto(ctx, commandQueryPCI, nil, &buses); err != nil {
		return nil, fmt.Errorf("querying PCI topology: %w", err)
	}
	if len(buses) == 0 {
		return nil, fmt.Errorf("querying PCI topology: %s reported no buses", commandQueryPCI)
	}
	return buses[0].Devices, nil
}

// SearchPCIDevice reports whether a device with deviceID occupies slot.
// Both must match: a slot reused by another device does not count.
func (o *Operator) SearchPCIDevice(ctx context.Context, slot int, deviceID string) (bool, error) {
	devices, err := o.PCIDevices(ctx)
	if err != nil {
		return false, err
	}
	for _, device := range devices {
		if device.ID == deviceID && device.Slot == slot {
			return true, nil
		}
	}
	return false, nil
}

// FreePCISlot returns the lowest unoccupied slot on the first bus, or
// ErrNoFreePCISlot.
func (o *Operator) FreePCISlot(ctx context.Context) (int, error) {
	devices, err := o.PCIDevices(ctx)
	if err != nil {
		return 0, err
	}
	return freeSlot(devices)
}

func freeSlot(devices []PCIDevice) (int, error) {
	var occupied uint32
	for _, device := range devices {
		if device.Slot < 0 || device.Slot >= PCISlots {
			return 0, fmt.Errorf("device %q reports slot %d outside the %d-slot bus", device.ID, device.Slot, PCISlots)
		}
		occupied |= 1 << device.Slot
	}
	for slot := range PCISlots {
		if occupied&(1<<slot) == 0 {
			return slot, nil
		}
	}
	return 0, ErrNoFreePCISlot
}
