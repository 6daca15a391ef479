// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hvkit/hvkit/lib/config"
	"github.com/hvkit/hvkit/lib/process"
	"github.com/hvkit/hvkit/lib/service"
	"github.com/hvkit/hvkit/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// shutdownTimeout bounds how long the metrics listener waits for
// in-flight scrapes on shutdown.
const shutdownTimeout = 5 * time.Second

func run() error {
	var (
		configPath     string
		socketPath     string
		metricsAddress string
		logLevel       string
		showVersion    bool
	)

	flagSet := pflag.NewFlagSet("hvkit-hotplugd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&socketPath, "socket", "", "listen socket (default agent.socket_path)")
	flagSet.StringVar(&metricsAddress, "metrics-address", "", "metrics listen address (default agent.metrics_address)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default agent.log_level)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Println(version.Banner("hvkit-hotplugd"))
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Agent.SocketPath = socketPath
	}
	if metricsAddress != "" {
		cfg.Agent.MetricsAddress = metricsAddress
	}
	if logLevel != "" {
		cfg.Agent.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Agent.LogLevel)); err != nil {
		return fmt.Errorf("agent.log_level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	hotplugAgent, err := newAgent(cfg, logger, newMetrics(registry))
	if err != nil {
		return err
	}

	socketServer := service.NewSocketServer(cfg.Agent.SocketPath, logger)
	hotplugAgent.registerActions(socketServer)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return socketServer.Serve(ctx)
	})

	if cfg.Agent.MetricsAddress != "" {
		httpServer := &http.Server{
			Addr:              cfg.Agent.MetricsAddress,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics listening", "address", cfg.Agent.MetricsAddress)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("hot-plug agent running",
		"version", version.Info(),
		"environment", cfg.Environment,
		"socket", cfg.Agent.SocketPath,
		"monitor_dir", cfg.Paths.MonitorDir,
	)

	err = group.Wait()
	logger.Info("shutting down")
	return err
}

// loadConfig reads the file named by --config or HVKIT_CONFIG. With
// neither set the built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv(config.EnvironmentVariable)
	}
	if path == "" {
		return config.Builtin(), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
