// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package pci implements the "hvkit pci" commands: listing the devices
// on an instance's hot-plug bus, finding the lowest free slot, and
// checking whether a device occupies a given slot.
package pci

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/hvkit/hvkit/cmd/hvkit/cli"
	"github.com/hvkit/hvkit/lib/hotplug"
)

type pciParams struct {
	cli.MonitorOptions
	cli.JSONOutput
}

// Command returns the "pci" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "pci",
		Summary: "Inspect the PCI bus devices are hot-plugged into",
		Subcommands: []*cli.Command{
			listCommand(),
			freeSlotCommand(),
			findCommand(),
		},
	}
}

func listCommand() *cli.Command {
	var params pciParams

	return &cli.Command{
		Name:    "list",
		Summary: "List devices on the first PCI bus",
		Usage:   "hvkit pci list <instance> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(args []string) error {
			return withOperator(&params.MonitorOptions, args, 0, func(ctx context.Context, operator *hotplug.Operator, _ []string) error {
				return list(ctx, cli.Stdout, operator, &params.JSONOutput)
			})
		},
	}
}

func freeSlotCommand() *cli.Command {
	var params pciParams

	return &cli.Command{
		Name:    "free-slot",
		Summary: "Print the lowest unoccupied PCI slot",
		Usage:   "hvkit pci free-slot <instance> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("free-slot", &params)
		},
		Run: func(args []string) error {
			return withOperator(&params.MonitorOptions, args, 0, func(ctx context.Context, operator *hotplug.Operator, _ []string) error {
				return freeSlot(ctx, cli.Stdout, operator, &params.JSONOutput)
			})
		},
	}
}

func findCommand() *cli.Command {
	var params pciParams

	return &cli.Command{
		Name:    "find",
		Summary: "Check whether a device occupies a slot",
		Description: `Check whether the device with the given ID sits in the given slot.
Both must match. Exits 0 when found and 1 when not.`,
		Usage: "hvkit pci find <instance> <slot> <device-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("find", &params)
		},
		Run: func(args []string) error {
			return withOperator(&params.MonitorOptions, args, 2, func(ctx context.Context, operator *hotplug.Operator, rest []string) error {
				slot, err := strconv.Atoi(rest[0])
				if err != nil || slot < 0 || slot >= hotplug.PCISlots {
					return cli.Validation("slot must be an integer in [0, %d), got %q", hotplug.PCISlots, rest[0])
				}
				return find(ctx, cli.Stdout, operator, slot, rest[1], &params.JSONOutput)
			})
		},
	}
}

// withOperator opens the monitor, checks the positional argument count,
// and runs fn with a hot-plug operator.
func withOperator(options *cli.MonitorOptions, args []string, want int, fn func(context.Context, *hotplug.Operator, []string) error) error {
	ctx, cancel := cli.CommandContext()
	defer cancel()

	session, rest, err := options.Open(ctx, args)
	if err != nil {
		return err
	}
	defer session.Close()
	if len(rest) != want {
		return cli.Validation("expected %d arguments after the instance, got %d", want, len(rest))
	}
	return cli.Classify(fn(ctx, session.Operator(), rest))
}

func list(ctx context.Context, w io.Writer, operator *hotplug.Operator, output *cli.JSONOutput) error {
	devices, err := operator.PCIDevices(ctx)
	if err != nil {
		return err
	}
	if done, err := output.EmitJSON(w, devices); done {
		return err
	}
	rows := make([][]string, 0, len(devices))
	for _, device := range devices {
		id := device.ID
		if id == "" {
			id = "-"
		}
		rows = append(rows, []string{strconv.Itoa(device.Slot), id})
	}
	return cli.WriteTable(w, []string{"SLOT", "DEVICE"}, rows)
}

func freeSlot(ctx context.Context, w io.Writer, operator *hotplug.Operator, output *cli.JSONOutput) error {
	slot, err := operator.FreePCISlot(ctx)
	if err != nil {
		return err
	}
	if done, err := output.EmitJSON(w, map[string]int{"slot": slot}); done {
		return err
	}
	_, err = fmt.Fprintln(w, slot)
	return err
}

func find(ctx context.Context, w io.Writer, operator *hotplug.Operator, slot int, deviceID string, output *cli.JSONOutput) error {
	found, err := operator.SearchPCIDevice(ctx, slot, deviceID)
	if err != nil {
		return err
	}
	if done, err := output.EmitJSON(w, map[string]bool{"found": found}); done {
		if err == nil && !found {
			return &cli.ExitError{Code: 1}
		}
		return err
	}
	if !found {
		fmt.Fprintf(w, "%s not found in slot %d\n", deviceID, slot)
		return &cli.ExitError{Code: 1}
	}
	_, err = fmt.Fprintf(w, "%s found in slot %d\n", deviceID, slot)
	return err
}
