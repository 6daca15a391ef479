// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// CommandContext returns a context cancelled by SIGINT or SIGTERM.
// Monitor operations check it between commands; a command already on
// the wire runs to completion or to its receive timeout.
func CommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
