// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Command hvkit inspects and hot-plugs devices on running instances
// through their QMP monitors.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/hvkit/hvkit/cmd/hvkit/cli"
	"github.com/hvkit/hvkit/cmd/hvkit/commands"
)

func main() {
	err := commands.Root().Execute(os.Args[1:])
	if err == nil {
		return
	}
	// Commands that print their own verdict (like "pci find") return
	// an ExitError; don't print a redundant "error:" line for those.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(cli.ExitCodeFor(err))
}
