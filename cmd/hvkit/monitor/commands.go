// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/hvkit/hvkit/cmd/hvkit/cli"
)

type commandsParams struct {
	cli.MonitorOptions
	cli.JSONOutput
}

func commandsCommand() *cli.Command {
	var params commandsParams

	return &cli.Command{
		Name:    "commands",
		Summary: "List the commands the monitor supports",
		Usage:   "hvkit qmp commands <instance> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("commands", &params)
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
			return writeCommands(cli.Stdout, session.Connection.SupportedCommands(), &params.JSONOutput)
		},
	}
}

func writeCommands(w io.Writer, commands []string, output *cli.JSONOutput) error {
	if done, err := output.EmitJSON(w, commands); done {
		return err
	}
	for _, command := range commands {
		if _, err := fmt.Fprintln(w, command); err != nil {
			return err
		}
	}
	return nil
}
