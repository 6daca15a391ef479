// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/hvkit/hvkit/cmd/hvkit/cli"
	"github.com/hvkit/hvkit/lib/qmp"
)

type execParams struct {
	cli.MonitorOptions
	Arguments     string `flag:"args,a"    desc:"command arguments as a JSON object (comments and trailing commas allowed)"`
	ArgumentsFile string `flag:"args-file" desc:"read command arguments from a file (- for stdin)"`
}

func execCommand() *cli.Command {
	var params execParams

	return &cli.Command{
		Name:    "exec",
		Summary: "Execute a QMP command and print its reply",
		Description: `Execute one QMP command and print the reply payload as JSON.

Arguments are a JSON object given inline with --args or read from a
file with --args-file. Comments and trailing commas are accepted, so
argument files can be annotated.

The command must appear in the monitor's catalogue (see "hvkit qmp
commands"); unknown commands fail without being sent.`,
		Usage: "hvkit qmp exec <instance> <command> [flags]",
		Examples: []cli.Example{
			{
				Description: "Query the run state",
				Command:     "hvkit qmp exec vm-1 query-status",
			},
			{
				Description: "Remove a device by ID",
				Command:     `hvkit qmp exec vm-1 device_del --args '{"id": "hotnic-3"}'`,
			},
			{
				Description: "Pass annotated arguments from a file",
				Command:     "hvkit qmp exec vm-1 blockdev-add --args-file blockdev.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("exec", &params)
		},
		Run: func(args []string) error {
			arguments, err := readArguments(params.Arguments, params.ArgumentsFile, os.Stdin)
			if err != nil {
				return err
			}

			ctx, cancel := cli.CommandContext()
			defer cancel()

			session, rest, err := params.Open(ctx, args)
			if err != nil {
				return err
			}
			defer session.Close()
			if len(rest) != 1 {
				return cli.Validation("exactly one command name required, got %d arguments", len(rest))
			}
			return execute(ctx, cli.Stdout, session.Connection, rest[0], arguments)
		},
	}
}

// readArguments resolves --args / --args-file into an argument object.
// Neither flag yields nil, which sends the command without arguments.
func readArguments(inline, path string, stdin io.Reader) (map[string]any, error) {
	if inline != "" && path != "" {
		return nil, cli.Validation("--args and --args-file are mutually exclusive")
	}

	var data []byte
	switch {
	case inline != "":
		data = []byte(inline)
	case path == "-":
		read, err := io.ReadAll(stdin)
		if err != nil {
			return nil, cli.Internal("reading arguments from stdin: %w", err)
		}
		data = read
	case path != "":
		read, err := os.ReadFile(path)
		if err != nil {
			return nil, cli.Validation("reading arguments: %w", err)
		}
		data = read
	default:
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.UseNumber()
	var arguments map[string]any
	if err := decoder.Decode(&arguments); err != nil {
		return nil, cli.Validation("arguments must be a JSON object: %w", err)
	}
	if arguments == nil {
		return nil, cli.Validation("arguments must be a JSON object, got null")
	}
	return arguments, nil
}

func execute(ctx context.Context, w io.Writer, connection *qmp.Connection, command string, arguments map[string]any) error {
	result, err := connection.Execute(ctx, command, arguments)
	if err != nil {
		return cli.Classify(err)
	}
	return cli.WriteJSON(w, result)
}
