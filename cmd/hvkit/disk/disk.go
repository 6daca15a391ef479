// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package disk implements "hvkit disk add" and "hvkit disk del".
package disk

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/hvkit/hvkit/cmd/hvkit/cli"
	"github.com/hvkit/hvkit/lib/hotplug"
)

// Command returns the "disk" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "disk",
		Summary: "Hot-plug virtio block devices",
		Subcommands: []*cli.Command{
			addCommand(),
			delCommand(),
		},
	}
}

type addParams struct {
	cli.MonitorOptions
	cli.JSONOutput
	ID   string `flag:"id"   desc:"device ID (default hotdisk-<slot>)"`
	Slot int    `flag:"slot" desc:"PCI slot (default: lowest free slot)" default:"-1"`
}

// Added describes a hot-added disk.
type Added struct {
	ID   string `json:"id"`
	Slot int    `json:"slot"`
	URI  string `json:"uri"`
}

func addCommand() *cli.Command {
	var params addParams

	return &cli.Command{
		Name:    "add",
		Summary: "Hot-add a raw image or block device as a virtio-blk disk",
		Description: `Attach a disk to a running instance.

When the path can be opened locally, its descriptor is passed to the
monitor so the instance needs no access to the path itself. Otherwise
(for example a network URI) the path is handed to the monitor as is.`,
		Usage: "hvkit disk add <instance> <path-or-uri> [flags]",
		Examples: []cli.Example{
			{
				Description: "Attach a logical volume",
				Command:     "hvkit disk add vm-1 /dev/vg0/vm1-data",
			},
			{
				Description: "Attach an image in a chosen slot",
				Command:     "hvkit disk add vm-1 /srv/images/scratch.img --slot 10 --id scratch",
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
			if len(rest) != 1 {
				return cli.Validation("exactly one path or URI required, got %d arguments", len(rest))
			}
			if params.Slot < -1 || params.Slot >= hotplug.PCISlots {
				return cli.Validation("--slot must be in [0, %d), got %d", hotplug.PCISlots, params.Slot)
			}

			added, err := add(ctx, session.Operator(), rest[0], params.ID, params.Slot)
			if err != nil {
				return cli.Classify(err)
			}
			return writeAdded(cli.Stdout, added, &params.JSONOutput)
		},
	}
}

func add(ctx context.Context, operator *hotplug.Operator, uri, id string, slot int) (Added, error) {
	if err := operator.CheckDiskHotAdd(); err != nil {
		return Added{}, cli.Unsupported("%w", err)
	}
	if slot < 0 {
		free, err := operator.FreePCISlot(ctx)
		if err != nil {
			return Added{}, err
		}
		slot = free
	}
	if id == "" {
		id = fmt.Sprintf("hotdisk-%d", slot)
	}
	if err := operator.HotAddDisk(ctx, hotplug.Disk{PCI: slot}, id, uri); err != nil {
		return Added{}, err
	}
	return Added{ID: id, Slot: slot, URI: uri}, nil
}

func writeAdded(w io.Writer, added Added, output *cli.JSONOutput) error {
	if done, err := output.EmitJSON(w, added); done {
		return err
	}
	_, err := fmt.Fprintf(w, "%s added in slot %d (%s)\n", added.ID, added.Slot, added.URI)
	return err
}

type delParams struct {
	cli.MonitorOptions
}

func delCommand() *cli.Command {
	var params delParams

	return &cli.Command{
		Name:    "del",
		Summary: "Hot-remove a disk",
		Description: `Detach a disk's virtio-blk device. The block backend stays with the
instance until it is torn down.`,
		Usage: "hvkit disk del <instance> <device-id> [flags]",
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
			if err := session.Operator().HotDelDisk(ctx, rest[0]); err != nil {
				return cli.Classify(err)
			}
			fmt.Fprintf(cli.Stdout, "%s removed\n", rest[0])
			return nil
		},
	}
}
