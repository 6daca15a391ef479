// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package tap opens the host-side descriptors a hot-plugged NIC needs:
// tap queues from /dev/net/tun and vhost-net handles from
// /dev/vhost-net. The descriptors are handed to the monitor with
// hotplug.Operator.HotAddNIC and closed locally afterwards.
//
// Only Linux provides these devices. Elsewhere every constructor
// returns ErrUnsupported.
package tap

import (
	"errors"
	"log/slog"
	"os"
)

// ErrUnsupported is returned on platforms without TUN/TAP support.
var ErrUnsupported = errors.New("tap: TUN/TAP devices are not supported on this platform")

const (
	tunDevice   = "/dev/net/tun"
	vhostDevice = "/dev/vhost-net"
)

// Options selects how a tap device is created.
type Options struct {
	// Name is the interface name to request. Empty lets the kernel
	// pick one.
	Name string

	// VnetHdr requests IFF_VNET_HDR. It is enabled only when the
	// kernel reports support for it.
	VnetHdr bool

	// Queues is the number of queues to open. Values above one create
	// a multi-queue device. Zero means one.
	Queues int

	// Logger receives a warning when VnetHdr cannot be honoured. Nil
	// discards.
	Logger *slog.Logger
}

// Device is an open tap interface.
type Device struct {
	// Name is the interface name assigned by the kernel.
	Name string

	// VnetHdr reports whether IFF_VNET_HDR was enabled.
	VnetHdr bool

	// Queues holds one open file per queue.
	Queues []*os.File
}

// FDs returns the raw descriptors of every queue, in queue order.
func (d *Device) FDs() []int {
	return descriptors(d.Queues)
}

// Close closes every queue. The interface disappears once the monitor
// has also closed its copies.
func (d *Device) Close() error {
	return closeAll(d.Queues)
}

func descriptors(files []*os.File) []int {
	fds := make([]int, 0, len(files))
	for _, file := range files {
		fds = append(fds, int(file.Fd()))
	}
	return fds
}

func closeAll(files []*os.File) error {
	var errs []error
	for _, file := range files {
		if err := file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseVhost closes vhost-net handles returned by OpenVhostNet.
func CloseVhost(files []*os.File) error {
	return closeAll(files)
}

// VhostFDs returns the raw descriptors of vhost-net handles.
func VhostFDs(files []*os.File) []int {
	return descriptors(files)
}
