// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Hvkit-hotplugd serves hot-plug operations for the instances on one
// host over a CBOR Unix socket, so that orchestration tooling does not
// need access to the monitor sockets or /dev/net/tun itself.
//
// Every request names an instance. The daemon resolves the instance's
// QMP socket under paths.monitor_dir, connects (retrying transient
// connect failures per monitor.connect_attempts), performs the action
// and closes the connection. Requests for the same instance are
// serialized; requests for different instances run concurrently.
//
// Actions:
//   - status: uptime and the number of instances seen
//   - info: monitor version, package and command catalogue
//   - pci-devices: devices on the first PCI bus
//   - free-pci-slot: lowest unoccupied slot
//   - hot-add-nic, hot-del-nic: virtio-net NIC with a host tap device
//   - hot-add-disk, hot-del-disk: virtio-blk disk
//
// Every instance action response carries a request_id that also
// appears on the daemon's log lines for that request. Prometheus
// metrics are served on agent.metrics_address at /metrics.
package main
