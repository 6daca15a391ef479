// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/hvkit/hvkit/cmd/hvkit/cli"
	"github.com/hvkit/hvkit/lib/qmp"
)

type infoParams struct {
	cli.MonitorOptions
	cli.JSONOutput
}

// Info is the result of "hvkit qmp info".
type Info struct {
	Socket   string `json:"socket"`
	Version  string `json:"version"`
	Package  string `json:"package"`
	Commands int    `json:"commands"`
}

func infoCommand() *cli.Command {
	var params infoParams

	return &cli.Command{
		Name:    "info",
		Summary: "Show the monitor's version and capabilities",
		Usage:   "hvkit qmp info <instance> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("info", &params)
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
			return writeInfo(cli.Stdout, describe(session.Connection), &params.JSONOutput)
		},
	}
}

func describe(connection *qmp.Connection) Info {
	return Info{
		Socket:   connection.SocketPath(),
		Version:  connection.Version().String(),
		Package:  connection.Package(),
		Commands: len(connection.SupportedCommands()),
	}
}

func writeInfo(w io.Writer, info Info, output *cli.JSONOutput) error {
	if done, err := output.EmitJSON(w, info); done {
		return err
	}
	return cli.WriteTable(w, []string{"FIELD", "VALUE"}, [][]string{
		{"socket", info.Socket},
		{"version", info.Version},
		{"package", info.Package},
		{"commands", fmt.Sprint(info.Commands)},
	})
}
