// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package nic implements "hvkit nic add" and "hvkit nic del".
//
// Adding a NIC creates the host side first: a tap interface with one
// queue per requested queue pair and, with vhost, one /dev/vhost-net
// descriptor per queue. The descriptors are passed to the monitor and
// the local copies closed once the hot-add completes; the interface
// lives as long as the instance holds its descriptors.
package nic

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/hvkit/hvkit/cmd/hvkit/cli"
	"github.com/hvkit/hvkit/lib/config"
	"github.com/hvkit/hvkit/lib/hotplug"
)

// Command returns the "nic" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "nic",
		Summary: "Hot-plug virtio network interfaces",
		Subcommands: []*cli.Command{
			addCommand(),
			delCommand(),
		},
	}
}

type addParams struct {
	cli.MonitorOptions
	cli.JSONOutput
	MAC       string `flag:"mac"         desc:"MAC address of the new NIC (required)"`
	ID        string `flag:"id"          desc:"device ID (default hotnic-<slot>)"`
	Slot      int    `flag:"slot"        desc:"PCI slot (default: lowest free slot)" default:"-1"`
	Tap       string `flag:"tap"         desc:"tap interface name (default: assigned by the kernel)"`
	Queues    int    `flag:"queues"      desc:"queue pairs; more than one enables multi-queue (default nic.queues)"`
	Vhost     bool   `flag:"vhost"       desc:"accelerate with vhost-net (also enabled by nic.vhost)"`
	NoVnetHdr bool   `flag:"no-vnet-hdr" desc:"do not request IFF_VNET_HDR on the tap device"`
}

// Added describes a hot-added NIC.
type Added struct {
	ID        string `json:"id"`
	Slot      int    `json:"slot"`
	MAC       string `json:"mac"`
	Interface string `json:"interface"`
	Queues    int    `json:"queues"`
	Vhost     bool   `json:"vhost"`
	VnetHdr   bool   `json:"vnet_hdr"`
}

func addCommand() *cli.Command {
	var params addParams

	return &cli.Command{
		Name:    "add",
		Summary: "Create a tap device and hot-add it as a virtio-net NIC",
		Usage:   "hvkit nic add <instance> --mac <mac> [flags]",
		Examples: []cli.Example{
			{
				Description: "Add a NIC in the lowest free slot",
				Command:     "hvkit nic add vm-1 --mac 52:54:00:12:34:56",
			},
			{
				Description: "Add a four-queue vhost NIC on a named tap",
				Command:     "hvkit nic add vm-1 --mac 52:54:00:12:34:57 --tap tap-vm1-1 --queues 4 --vhost",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("add", &params)
		},
		Run: func(args []string) error {
			ctx, cancel := cli.CommandContext()
			defer cancel()

			session, rest, err := params.Open(ctx, args)
			if err != nil {
				return err
			}
			defer session.Close()
			if len(rest) > 0 {
				return cli.Validation("unexpected argument %q", rest[0])
			}

			req, err := newRequest(&params, session.Config)
			if err != nil {
				return err
			}
			added, err := add(ctx, session.Operator(), req, hotplug.SystemDevices)
			if err != nil {
				return cli.Classify(err)
			}
			return writeAdded(cli.Stdout, added, &params.JSONOutput)
		},
	}
}

// newRequest validates params and applies configuration defaults.
func newRequest(params *addParams, cfg *config.Config) (hotplug.NICRequest, error) {
	mac, err := hotplug.CanonicalMAC(params.MAC)
	if err != nil {
		return hotplug.NICRequest{}, cli.Validation("--mac %w", err)
	}
	if params.Slot < -1 || params.Slot >= hotplug.PCISlots {
		return hotplug.NICRequest{}, cli.Validation("--slot must be in [0, %d), got %d", hotplug.PCISlots, params.Slot)
	}
	queues := params.Queues
	if queues == 0 {
		queues = cfg.NIC.Queues
	}
	if queues < 1 {
		return hotplug.NICRequest{}, cli.Validation("--queues must be positive, got %d", queues)
	}
	return hotplug.NICRequest{
		MAC:     mac,
		ID:      params.ID,
		Slot:    params.Slot,
		Tap:     params.Tap,
		Queues:  queues,
		Vhost:   params.Vhost || cfg.NIC.Vhost,
		VnetHdr: cfg.NIC.VnetHdr && !params.NoVnetHdr,
	}, nil
}

// add hot-adds the NIC. A failed preflight check is reported as
// unsupported rather than as bad input.
func add(ctx context.Context, operator *hotplug.Operator, req hotplug.NICRequest, host hotplug.HostDevices) (Added, error) {
	added, err := operator.AddNIC(ctx, req, host)
	if hotplug.IsPreflight(err) {
		return Added{}, cli.Unsupported("%w", err)
	}
	if err != nil {
		return Added{}, err
	}
	return Added(added), nil
}

func writeAdded(w io.Writer, added Added, output *cli.JSONOutput) error {
	if done, err := output.EmitJSON(w, added); done {
		return err
	}
	_, err := fmt.Fprintf(w, "%s added in slot %d on %s (mac %s, %d queues)\n",
		added.ID, added.Slot, added.Interface, added.MAC, added.Queues)
	return err
}

type delParams struct {
	cli.MonitorOptions
}

func delCommand() *cli.Command {
	var params delParams

	return &cli.Command{
		Name:    "del",
		Summary: "Hot-remove a NIC and its network backend",
		Usage:   "hvkit nic del <instance> <device-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("del", &params)
		},
		Run: func(args []string) error {
			ctx, cancel := cli.CommandContext()
			defer cancel()

			session, rest, err := params.Open(ctx, args)
			if err != nil {
				return err
			}
			defer session.Close()
			if len(rest) != 1 {
				return cli.Validation("exactly one device ID required, got %d arguments", len(rest))
			}
			if err := session.Operator().HotDelNIC(ctx, rest[0]); err != nil {
				return cli.Classify(err)
			}
			fmt.Fprintf(cli.Stdout, "%s removed\n", rest[0])
			return nil
		},
	}
}
