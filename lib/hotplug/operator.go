// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package hotplug

import (
	"context"
	"fmt"
	"log/slog"
)

// Monitor is the subset of a QMP connection the hot-plug operations
// use. *qmp.Connection implements it.
type Monitor interface {
	Execute(ctx context.Context, command string, arguments map[string]any) (any, error)
	ExecuteInto(ctx context.Context, command string, arguments map[string]any, result any) error
	Supports(command string) bool
	CanPassDescriptors() bool
	NameDescriptor(ctx context.Context, fd int, name string) error
	AddDescriptorToSet(ctx context.Context, fd int) (int, error)
	ReleaseDescriptorSet(ctx context.Context, id int)
}

// Monitor commands used by this package.
const (
	commandGetFD       = "getfd"
	commandAddFD       = "add-fd"
	commandNetdevAdd   = "netdev_add"
	commandNetdevDel   = "netdev_del"
	commandBlockdevAdd = "blockdev-add"
	commandDeviceAdd   = "device_add"
	commandDeviceDel   = "device_del"
	commandQueryPCI    = "query-pci"
)

const (
	// pciBus is the bus every hot-plugged device attaches to.
	pciBus = "pci.0"

	nicDriver  = "virtio-net-pci"
	diskDriver = "virtio-blk-pci"
)

// NIC describes a network interface to attach.
type NIC struct {
	// MAC is the guest-visible hardware address.
	MAC string

	// PCI is the slot on the first bus, usually from FreePCISlot.
	PCI int
}

// Disk describes a block device to attach.
type Disk struct {
	PCI int
}

// NICFeatures selects optional backend features for HotAddNIC.
type NICFeatures struct {
	// Vhost enables the in-kernel vhost-net data path. It requires one
	// vhost descriptor per tap descriptor.
	Vhost bool

	// MultiQueue enables virtio-net multi-queue with Queues queue
	// pairs. The frontend is given 2*Queues+1 MSI-X vectors.
	MultiQueue bool
	Queues     int
}

// Operator runs hot-plug operations against one monitor.
type Operator struct {
	monitor Monitor
	logger  *slog.Logger
}

// NewOperator returns an Operator for monitor. A nil logger discards.
func NewOperator(monitor Monitor, logger *slog.Logger) *Operator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Operator{monitor: monitor, logger: logger}
}

// CheckNICHotAdd verifies that NIC hot-add is possible: descriptors can
// be passed to the monitor and it supports getfd and netdev_add.
func (o *Operator) CheckNICHotAdd() error {
	return o.check("NIC", commandGetFD, commandNetdevAdd)
}

// CheckDiskHotAdd verifies that disk hot-add is possible: descriptors
// can be passed to the monitor and it supports add-fd and blockdev-add.
func (o *Operator) CheckDiskHotAdd() error {
	return o.check("disk", commandAddFD, commandBlockdevAdd)
}

func (o *Operator) check(device string, commands ...string) error {
	if !o.monitor.CanPassDescriptors() {
		return &Error{Device: device, Reason: "descriptor passing is not available on this host"}
	}
	for _, command := range commands {
		if !o.monitor.Supports(command) {
			return &Error{Device: device, Reason: fmt.Sprintf("%s command is not supported", command)}
		}
	}
	return nil
}

// pciAddress formats a slot the way device_add expects it.
func pciAddress(slot int) string {
	return fmt.Sprintf("0x%x", slot)
}
