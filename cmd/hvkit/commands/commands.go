// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the hvkit CLI command tree.
package commands

import (
	"fmt"

	"github.com/hvkit/hvkit/cmd/hvkit/cli"
	diskcmd "github.com/hvkit/hvkit/cmd/hvkit/disk"
	monitorcmd "github.com/hvkit/hvkit/cmd/hvkit/monitor"
	niccmd "github.com/hvkit/hvkit/cmd/hvkit/nic"
	pcicmd "github.com/hvkit/hvkit/cmd/hvkit/pci"
	"github.com/hvkit/hvkit/lib/version"
)

// Root builds and returns the complete hvkit CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "hvkit",
		Description: `hvkit: node-local QMP client for running instances.

Inspect an instance's monitor and PCI bus, and hot-plug virtio NICs and
disks without restarting it. Instances are addressed by name and
resolved to <monitor_dir>/<instance>.qmp; every command also accepts
--socket and --config.`,
		Subcommands: []*cli.Command{
			monitorcmd.Command(),
			pcicmd.Command(),
			niccmd.Command(),
			diskcmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ []string) error {
					_, err := fmt.Fprintf(cli.Stdout, "hvkit %s\n", version.Full())
					return err
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "List the PCI bus of an instance",
				Command:     "hvkit pci list vm-1",
			},
			{
				Description: "Hot-add a NIC",
				Command:     "hvkit nic add vm-1 --mac 52:54:00:12:34:56",
			},
		},
	}
}
