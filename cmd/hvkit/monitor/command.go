// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import "github.com/hvkit/hvkit/cmd/hvkit/cli"

// Command returns the "qmp" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "qmp",
		Summary: "Query and drive an instance's QMP monitor",
		Description: `Talk to the QMP monitor of a running instance.

The instance is named by its first argument and resolved to
<monitor_dir>/<instance>.qmp using the configuration; --socket names
the monitor socket directly instead.`,
		Subcommands: []*cli.Command{
			infoCommand(),
			commandsCommand(),
			execCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Show the hypervisor version",
				Command:     "hvkit qmp info vm-1",
			},
			{
				Description: "Run a raw command",
				Command:     "hvkit qmp exec vm-1 query-status",
			},
		},
	}
}
