// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package hotplug attaches and detaches virtual devices on a running
// instance through its QMP monitor.
//
// Each operation is a short fixed sequence of monitor commands: NIC
// hot-add names the tap (and optional vhost) descriptors with getfd,
// creates the network backend with netdev_add, then attaches a
// virtio-net-pci frontend with device_add. Disk hot-add passes the
// backing file through an fd-set, creates the block backend with
// blockdev-add, releases the fd-set, then attaches a virtio-blk-pci
// frontend. Removal detaches the frontend before the backend.
//
// The package does not own a connection. An [Operator] borrows a
// [Monitor] (in practice a *qmp.Connection) for the duration of each
// call; callers serialize access per instance. Call the preflight
// checks ([Operator.CheckNICHotAdd], [Operator.CheckDiskHotAdd]) before
// any hot-add so that a missing capability surfaces as an [*Error]
// instead of a half-applied change.
//
// PCI slots are discovered from query-pci on every call and never
// cached: the first bus is assumed to be pci.0 with [PCISlots] slots.
package hotplug
