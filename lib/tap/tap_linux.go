// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package tap

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// iffOneQueue is the legacy IFF_ONE_QUEUE flag from <linux/if_tun.h>.
// The kernel ignores it today; the emulator still sets it for
// compatibility with older kernels.
const iffOneQueue = 0x2000

// Open creates (or attaches to) a tap interface and opens one file per
// queue.
func Open(options Options) (*Device, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	queues := max(options.Queues, 1)

	first, err := os.OpenFile(tunDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", tunDevice, err)
	}

	vnetHdr := false
	if options.VnetHdr {
		features, err := unix.IoctlGetUint32(int(first.Fd()), unix.TUNGETFEATURES)
		if err != nil {
			logger.Warn("TUNGETFEATURES failed, not enabling IFF_VNET_HDR", "error", err)
		} else if features&unix.IFF_VNET_HDR == 0 {
			logger.Warn("kernel does not support IFF_VNET_HDR, not enabling")
		} else {
			vnetHdr = true
		}
	}
	flags := interfaceFlags(vnetHdr, queues)

	device := &Device{VnetHdr: vnetHdr, Queues: []*os.File{first}}
	name, err := attach(first, options.Name, flags)
	if err != nil {
		device.Close()
		return nil, err
	}
	device.Name = name

	for range queues - 1 {
		queue, err := os.OpenFile(tunDevice, os.O_RDWR, 0)
		if err != nil {
			device.Close()
			return nil, fmt.Errorf("opening %s: %w", tunDevice, err)
		}
		device.Queues = append(device.Queues, queue)
		if _, err := attach(queue, name, flags); err != nil {
			device.Close()
			return nil, err
		}
	}
	return device, nil
}

// interfaceFlags computes the TUNSETIFF flags for a device.
func interfaceFlags(vnetHdr bool, queues int) uint16 {
	flags := uint16(unix.IFF_TAP | unix.IFF_NO_PI | iffOneQueue)
	if vnetHdr {
		flags |= unix.IFF_VNET_HDR
	}
	if queues > 1 {
		flags |= unix.IFF_MULTI_QUEUE
	}
	return flags
}

func attach(file *os.File, name string, flags uint16) (string, error) {
	request, err := unix.NewIfreq(name)
	if err != nil {
		return "", fmt.Errorf("tap interface name %q: %w", name, err)
	}
	request.SetUint16(flags)
	if err := unix.IoctlIfreq(int(file.Fd()), unix.TUNSETIFF, request); err != nil {
		return "", fmt.Errorf("allocating tap device %q: %w", name, err)
	}
	return request.Name(), nil
}

// OpenVhostNet opens count vhost-net handles, one per tap queue.
func OpenVhostNet(count int) ([]*os.File, error) {
	files := make([]*os.File, 0, count)
	for range count {
		file, err := os.OpenFile(vhostDevice, os.O_RDWR, 0)
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("opening %s: %w", vhostDevice, err)
		}
		files = append(files, file)
	}
	return files, nil
}
