// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/hvkit/hvkit/lib/config"
	"github.com/hvkit/hvkit/lib/hotplug"
	"github.com/hvkit/hvkit/lib/qmp"
)

// agent performs hot-plug actions against the instances on this host.
//
// A monitor permits one outstanding command, so each instance has a
// mutex held for the whole action: connect, commands, close. The
// mutexes live in a sharded map keyed by instance name and are never
// removed; instance names are few and long-lived.
type agent struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics
	host    hotplug.HostDevices

	receiveTimeout  time.Duration
	connectBackoff  time.Duration
	connectAttempts int

	locks     cmap.ConcurrentMap[string, *sync.Mutex]
	startedAt time.Time
}

func newAgent(cfg *config.Config, logger *slog.Logger, metrics *metrics) (*agent, error) {
	receiveTimeout, err := cfg.ReceiveTimeout()
	if err != nil {
		return nil, err
	}
	connectBackoff, err := cfg.ConnectBackoff()
	if err != nil {
		return nil, err
	}
	return &agent{
		config:          cfg,
		logger:          logger,
		metrics:         metrics,
		host:            hotplug.SystemDevices,
		receiveTimeout:  receiveTimeout,
		connectBackoff:  connectBackoff,
		connectAttempts: max(cfg.Monitor.ConnectAttempts, 1),
		locks:           cmap.New[*sync.Mutex](),
		startedAt:       time.Now(),
	}, nil
}

// instanceLock returns the mutex serializing access to instance's
// monitor, creating it on first use.
func (a *agent) instanceLock(instance string) *sync.Mutex {
	return a.locks.Upsert(instance, nil, func(exists bool, current, _ *sync.Mutex) *sync.Mutex {
		if exists {
			return current
		}
		return new(sync.Mutex)
	})
}

// requestScope is what an instance action works with: an operator on
// a live connection and a logger tagged with the request.
type requestScope struct {
	id         string
	instance   string
	connection *qmp.Connection
	operator   *hotplug.Operator
	logger     *slog.Logger
}

// withInstance resolves instance's monitor, takes its lock, connects
// and runs fn. The connection is closed when fn returns. Errors are
// annotated with the request ID so callers can correlate them with
// the daemon log.
func (a *agent) withInstance(ctx context.Context, action, instance string, fn func(*requestScope) error) error {
	id := uuid.NewString()
	logger := a.logger.With("request_id", id, "action", action, "instance", instance)

	if instance == "" {
		return &requestError{Field: "instance", Reason: "is required"}
	}
	socketPath, err := a.config.MonitorSocket(instance)
	if err != nil {
		return &requestError{Field: "instance", Reason: err.Error()}
	}

	lock := a.instanceLock(instance)
	lock.Lock()
	defer lock.Unlock()

	connection, err := a.dial(ctx, socketPath, logger)
	if err != nil {
		logger.Warn("monitor connection failed", "error", err)
		return fmt.Errorf("request %s: %w", id, err)
	}
	defer connection.Close()

	scope := &requestScope{
		id:         id,
		instance:   instance,
		connection: connection,
		operator:   hotplug.NewOperator(connection, logger),
		logger:     logger,
	}
	if err := fn(scope); err != nil {
		logger.Warn("action failed", "error", err)
		return fmt.Errorf("request %s: %w", id, err)
	}
	logger.Debug("action completed")
	return nil
}

// dial connects to the monitor at socketPath. Socket-level failures
// are retried with exponential backoff up to connectAttempts in total.
// Anything else fails at once, including a missing socket and a peer
// whose greeting is not QMP.
func (a *agent) dial(ctx context.Context, socketPath string, logger *slog.Logger) (*qmp.Connection, error) {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = a.connectBackoff
	exponential.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(a.connectAttempts-1)), ctx)

	var connection *qmp.Connection
	operation := func() error {
		var err error
		connection, err = qmp.Dial(ctx, qmp.Config{
			SocketPath:     socketPath,
			ReceiveTimeout: a.receiveTimeout,
			Logger:         logger,
		})
		var communicationErr *qmp.CommunicationError
		switch {
		case err == nil:
			a.metrics.connectAttempts.WithLabelValues("connected").Inc()
			return nil
		case errors.As(err, &communicationErr) && !communicationErr.Greeting():
			a.metrics.connectAttempts.WithLabelValues("retryable").Inc()
			return err
		default:
			a.metrics.connectAttempts.WithLabelValues("failed").Inc()
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("retrying monitor connection", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return connection, nil
}

// requestError reports a malformed request: a missing or invalid
// field. Nothing was sent to the monitor.
type requestError struct {
	Field  string
	Reason string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}
