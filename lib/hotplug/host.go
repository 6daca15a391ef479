// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package hotplug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/hvkit/hvkit/lib/tap"
)

// HostDevices opens the host side of a NIC. Tests substitute pipes
// for the character devices.
type HostDevices struct {
	OpenTap   func(tap.Options) (*tap.Device, error)
	OpenVhost func(count int) ([]*os.File, error)
}

// SystemDevices opens the real /dev/net/tun and /dev/vhost-net.
var SystemDevices = HostDevices{OpenTap: tap.Open, OpenVhost: tap.OpenVhostNet}

// NICRequest describes a NIC to create on the host and hot-add.
type NICRequest struct {
	// MAC is the guest MAC address, as returned by [CanonicalMAC].
	MAC string

	// ID is the device ID. Empty selects hotnic-<slot>.
	ID string

	// Slot is the PCI slot. Negative selects the lowest free slot.
	Slot int

	// Tap is the tap interface name. Empty lets the kernel pick one.
	Tap string

	Queues  int
	Vhost   bool
	VnetHdr bool
}

// AddedNIC describes a hot-added NIC.
type AddedNIC struct {
	ID        string
	Slot      int
	MAC       string
	Interface string
	Queues    int
	Vhost     bool

	// VnetHdr reports whether the tap device actually got
	// IFF_VNET_HDR; the kernel may lack it.
	VnetHdr bool
}

// AddNIC runs the whole NIC hot-add: preflight check, slot selection,
// tap (and vhost-net) creation on the host, then HotAddNIC. The local
// descriptors are closed on return; the instance keeps its own copies.
//
// A failed preflight check returns an *Error before the host or the
// monitor is touched.
func (o *Operator) AddNIC(ctx context.Context, request NICRequest, host HostDevices) (AddedNIC, error) {
	if err := o.CheckNICHotAdd(); err != nil {
		return AddedNIC{}, err
	}
	queues := max(request.Queues, 1)

	slot := request.Slot
	if slot < 0 {
		free, err := o.FreePCISlot(ctx)
		if err != nil {
			return AddedNIC{}, err
		}
		slot = free
	}
	id := request.ID
	if id == "" {
		id = fmt.Sprintf("hotnic-%d", slot)
	}

	device, err := host.OpenTap(tap.Options{Name: request.Tap, VnetHdr: request.VnetHdr, Queues: queues, Logger: o.logger})
	if err != nil {
		return AddedNIC{}, fmt.Errorf("creating tap device: %w", err)
	}
	defer device.Close()

	var vhostFiles []*os.File
	if request.Vhost {
		vhostFiles, err = host.OpenVhost(queues)
		if err != nil {
			return AddedNIC{}, fmt.Errorf("opening vhost-net: %w", err)
		}
		defer tap.CloseVhost(vhostFiles)
	}

	features := NICFeatures{Vhost: request.Vhost, MultiQueue: queues > 1, Queues: queues}
	if err := o.HotAddNIC(ctx, NIC{MAC: request.MAC, PCI: slot}, id, device.FDs(), tap.VhostFDs(vhostFiles), features); err != nil {
		return AddedNIC{}, err
	}

	return AddedNIC{
		ID:        id,
		Slot:      slot,
		MAC:       request.MAC,
		Interface: device.Name,
		Queues:    queues,
		Vhost:     request.Vhost,
		VnetHdr:   device.VnetHdr,
	}, nil
}

// CanonicalMAC validates a unicast 48-bit MAC address and returns it
// in lower-case colon form. Error texts are phrased to follow the name
// of the field that carried the value.
func CanonicalMAC(value string) (string, error) {
	if value == "" {
		return "", errors.New("is required")
	}
	hardware, err := net.ParseMAC(value)
	if err != nil || len(hardware) != 6 {
		return "", fmt.Errorf("must be a 48-bit MAC address, got %q", value)
	}
	if hardware[0]&1 != 0 {
		return "", fmt.Errorf("%s is a multicast address", value)
	}
	return hardware.String(), nil
}
