// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/hvkit/hvkit/lib/config"
	"github.com/hvkit/hvkit/lib/hotplug"
	"github.com/hvkit/hvkit/lib/qmp"
	"github.com/hvkit/hvkit/lib/tap"
)

// MonitorOptions holds the flags every monitor-facing command shares:
// where the configuration lives, how to find the instance's QMP socket,
// and how chatty to be. Embed it in a params struct; it binds its own
// flags through [FlagBinder].
type MonitorOptions struct {
	// ConfigPath overrides HVKIT_CONFIG. When both are empty the
	// built-in defaults apply.
	ConfigPath string

	// Socket names the monitor socket directly, bypassing the
	// instance name lookup.
	Socket string

	// Timeout overrides monitor.receive_timeout.
	Timeout time.Duration

	// Verbose enables debug logging of every QMP exchange.
	Verbose bool
}

// AddFlags registers the shared monitor flags.
func (o *MonitorOptions) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.ConfigPath, "config", "", "config file (default $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&o.Socket, "socket", "", "monitor socket path; replaces the <instance> argument")
	flagSet.DurationVar(&o.Timeout, "timeout", 0, "receive timeout (default monitor.receive_timeout)")
	flagSet.BoolVarP(&o.Verbose, "verbose", "v", false, "log every QMP exchange")
}

// LoadConfig loads the configuration named by --config or
// HVKIT_CONFIG, falling back to [config.Builtin].
func (o *MonitorOptions) LoadConfig() (*config.Config, error) {
	path := o.ConfigPath
	if path == "" {
		path = os.Getenv(config.EnvironmentVariable)
	}
	if path == "" {
		return config.Builtin(), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, Validation("loading config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, Validation("%w", err)
	}
	return cfg, nil
}

// Session is an open monitor connection plus the context a command
// needs around it.
type Session struct {
	Config     *config.Config
	Connection *qmp.Connection
	Logger     *slog.Logger
}

// Close closes the monitor connection.
func (s *Session) Close() error {
	return s.Connection.Close()
}

// Operator returns a hot-plug operator bound to the session's
// connection.
func (s *Session) Operator() *hotplug.Operator {
	return hotplug.NewOperator(s.Connection, s.Logger)
}

// Open resolves the target monitor from args and completes the QMP
// handshake. Without --socket the first argument is the instance
// name; the remaining arguments are returned.
func (o *MonitorOptions) Open(ctx context.Context, args []string) (*Session, []string, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	socketPath := o.Socket
	if socketPath == "" {
		if len(args) == 0 {
			return nil, nil, Validation("instance name required (or pass --socket)")
		}
		socketPath, err = cfg.MonitorSocket(args[0])
		if err != nil {
			return nil, nil, Validation("%w", err)
		}
		args = args[1:]
	}

	timeout := o.Timeout
	if timeout == 0 {
		timeout, err = cfg.ReceiveTimeout()
		if err != nil {
			return nil, nil, Validation("%w", err)
		}
	}

	logger := NewCommandLogger(o.Verbose)
	connection, err := qmp.Dial(ctx, qmp.Config{
		SocketPath:     socketPath,
		ReceiveTimeout: timeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, Classify(err)
	}
	return &Session{Config: cfg, Connection: connection, Logger: logger}, args, nil
}

// Classify wraps err in a [ToolError] whose category reflects the
// failure: configuration problems are not-found, missing capabilities
// are unsupported, monitor error replies are rejected, socket failures
// are transient. Errors that already carry a category or an exit code
// pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		toolErr *ToolError
		exitErr *ExitError
	)
	if errors.As(err, &toolErr) || errors.As(err, &exitErr) {
		return err
	}

	var (
		configurationErr *qmp.ConfigurationError
		unsupportedErr   *qmp.UnsupportedCommandError
		commandErr       *qmp.CommandError
		communicationErr *qmp.CommunicationError
		hotplugErr       *hotplug.Error
	)
	switch {
	case errors.As(err, &configurationErr):
		return NotFound("%w", err).WithHint("Is the instance running? Check paths.monitor_dir or pass --socket.")
	case errors.As(err, &unsupportedErr),
		errors.Is(err, qmp.ErrDescriptorPassingUnsupported),
		errors.Is(err, tap.ErrUnsupported):
		return Unsupported("%w", err)
	case errors.As(err, &hotplugErr):
		return Validation("%w", err)
	case errors.Is(err, hotplug.ErrNoFreePCISlot):
		return NotFound("%w", err)
	case errors.As(err, &commandErr):
		return Rejected("%w", err)
	case errors.As(err, &communicationErr):
		return Transient("%w", err)
	default:
		return Internal("%w", err)
	}
}
