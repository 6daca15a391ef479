// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
)

const (
	capabilitiesCommand  = "qmp_capabilities"
	queryCommandsCommand = "query-commands"
)

// receiveChunkSize is the size of each socket read while waiting for a
// complete message.
const receiveChunkSize = 4096

// State is the lifecycle position of a Connection.
type State int

const (
	// StateDisconnected: no socket, or the handshake has not started.
	StateDisconnected State = iota

	// StateNegotiating: the greeting was accepted and capability
	// negotiation is in progress. The command catalogue is not known
	// yet, so Execute does not gate on it.
	StateNegotiating

	// StateReady: the command catalogue is cached and gates every
	// Execute.
	StateReady

	// StateBroken: a communication or decode failure left the stream
	// in an unknown position. Only Close is meaningful.
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateBroken:
		return "broken"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Version is the emulator version reported in the greeting.
type Version struct {
	Major int
	Minor int
	Micro int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
}

// AtLeast reports whether v is major.minor or newer.
func (v Version) AtLeast(major, minor int) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// Config configures a Connection.
type Config struct {
	// SocketPath is the monitor's Unix socket.
	SocketPath string

	// ReceiveTimeout bounds each socket read. Zero selects
	// DefaultReceiveTimeout.
	ReceiveTimeout time.Duration

	// Logger receives debug output for commands and discarded events,
	// and warnings for advisory cleanup failures. Nil discards.
	Logger *slog.Logger

	// DescriptorSender overrides the platform descriptor transfer
	// mechanism. Nil selects DefaultDescriptorSender.
	DescriptorSender DescriptorSender
}

// Connection is a QMP session with one instance's monitor.
//
// The protocol carries no request identifier: a reply is matched to a
// command only by arriving next. A Connection therefore permits exactly
// one outstanding command and must not be shared between goroutines
// without external serialization. Events that arrive while no command
// is pending stay unread until the next Execute observes and discards
// them.
type Connection struct {
	socket *Socket
	logger *slog.Logger
	sender DescriptorSender

	// buffer holds received bytes that do not yet form a complete
	// message. It never contains a full frame between calls.
	buffer []byte

	state  State
	broken error

	version     Version
	packageName string
	supported   map[string]struct{}
}

// NewConnection returns an unconnected Connection. Call Connect before
// issuing commands.
func NewConnection(config Config) *Connection {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sender := config.DescriptorSender
	if sender == nil {
		sender = DefaultDescriptorSender()
	}
	return &Connection{
		socket: NewSocket(config.SocketPath, config.ReceiveTimeout),
		logger: logger.With("monitor", config.SocketPath),
		sender: sender,
	}
}

// Dial creates a Connection and completes the handshake.
func Dial(ctx context.Context, config Config) (*Connection, error) {
	connection := NewConnection(config)
	if err := connection.Connect(ctx); err != nil {
		return nil, err
	}
	return connection, nil
}

// Connect opens the monitor socket, validates the greeting, negotiates
// capabilities and caches the supported command catalogue. On any
// failure the socket is closed and the Connection returns to
// StateDisconnected.
func (c *Connection) Connect(ctx context.Context) error {
	if c.state != StateDisconnected || c.socket.Connected() {
		return ErrAlreadyConnected
	}
	if err := c.socket.Connect(ctx); err != nil {
		return err
	}

	greeting, err := c.receive(ctx)
	if err != nil {
		c.reset()
		return err
	}
	version, packageName, err := parseGreeting(greeting)
	if err != nil {
		c.reset()
		return err
	}
	c.version = version
	c.packageName = packageName

	// Only the first greeting is authoritative; some monitors emit
	// more than one greeting-shaped message.
	c.buffer = nil

	c.state = StateNegotiating
	if _, err := c.Execute(ctx, capabilitiesCommand, nil); err != nil {
		c.reset()
		return fmt.Errorf("negotiating capabilities: %w", err)
	}

	supported, err := c.queryCommands(ctx)
	if err != nil {
		c.reset()
		return fmt.Errorf("querying supported commands: %w", err)
	}
	c.supported = supported
	c.state = StateReady

	c.logger.Debug("qmp connection ready",
		"version", c.version.String(),
		"package", c.packageName,
		"commands", len(c.supported),
	)
	return nil
}

// Close releases the socket and forgets all negotiated state.
func (c *Connection) Close() error {
	err := c.socket.Close()
	c.buffer = nil
	c.state = StateDisconnected
	c.broken = nil
	c.supported = nil
	return err
}

func (c *Connection) reset() {
	c.socket.Close()
	c.buffer = nil
	c.state = StateDisconnected
	c.supported = nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State { return c.state }

// Version returns the emulator version from the greeting.
func (c *Connection) Version() Version { return c.version }

// Package returns the emulator package string from the greeting.
func (c *Connection) Package() string { return c.packageName }

// SocketPath returns the monitor socket path.
func (c *Connection) SocketPath() string { return c.socket.Path() }

// SupportedCommands returns the cached command catalogue, sorted. It is
// nil until the handshake completes.
func (c *Connection) SupportedCommands() []string {
	if c.supported == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.supported))
}

// Supports reports whether the cached catalogue lists command. It is
// false before the handshake completes.
func (c *Connection) Supports(command string) bool {
	if c.state != StateReady {
		return false
	}
	_, ok := c.supported[command]
	return ok
}

// Execute sends command with optional arguments and returns the result
// payload of the matching reply.
//
// Once the catalogue is cached, a command it does not list fails with
// *UnsupportedCommandError before anything is written. Asynchronous
// events received while waiting are discarded. An error reply yields a
// *CommandError. Communication failures yield a *CommunicationError and
// leave the Connection in StateBroken.
func (c *Connection) Execute(ctx context.Context, command string, arguments map[string]any) (any, error) {
	if err := c.checkCommand(command); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := frame(NewCommand(command, arguments))
	if err != nil {
		return nil, err
	}

	c.logger.Debug("sending qmp command", "command", command)
	if err := c.socket.write(data); err != nil {
		return nil, c.invalidate(err)
	}
	return c.awaitReply(ctx, command)
}

// ExecuteInto runs Execute and decodes the result payload into result,
// which must be a pointer. A nil result discards the payload.
func (c *Connection) ExecuteInto(ctx context.Context, command string, arguments map[string]any, result any) error {
	payload, err := c.Execute(ctx, command, arguments)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return decodePayload(command, payload, result)
}

func decodePayload(command string, payload any, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &SerializationError{Err: fmt.Errorf("re-encoding %s result: %w", command, err)}
	}
	if err := json.Unmarshal(data, result); err != nil {
		return &SerializationError{Err: fmt.Errorf("decoding %s result: %w", command, err)}
	}
	return nil
}

// checkCommand rejects commands that cannot be sent in the current
// state. The catalogue check applies only in StateReady.
func (c *Connection) checkCommand(command string) error {
	switch c.state {
	case StateNegotiating:
		return nil
	case StateReady:
		if _, ok := c.supported[command]; !ok {
			return &UnsupportedCommandError{Command: command}
		}
		return nil
	case StateBroken:
		return fmt.Errorf("connection unusable after earlier failure: %w", c.broken)
	}
	return ErrNotConnected
}

// awaitReply receives until a non-event message arrives.
func (c *Connection) awaitReply(ctx context.Context, command string) (any, error) {
	for {
		message, err := c.receive(ctx)
		if err != nil {
			return nil, c.invalidate(err)
		}

		if class, description, failed := message.ErrorReply(); failed {
			return nil, &CommandError{
				Command:     command,
				Class:       class,
				Description: description,
			}
		}

		if message.IsEvent() {
			c.logger.Debug("discarding asynchronous event",
				"event", message.EventName(),
				"pending_command", command,
			)
			continue
		}

		return message.Return(), nil
	}
}

// receive returns the next message, reading from the socket only when
// the buffer holds no complete frame.
func (c *Connection) receive(ctx context.Context) (Message, error) {
	message, remainder, err := ParseMessage(c.buffer)
	c.buffer = remainder
	if err != nil || message != nil {
		return message, err
	}

	deadline, _ := ctx.Deadline()
	chunk := make([]byte, receiveChunkSize)
	for {
		n, err := c.socket.read(chunk, deadline)
		if err != nil {
			return nil, err
		}
		c.buffer = append(c.buffer, chunk[:n]...)

		message, remainder, err = ParseMessage(c.buffer)
		c.buffer = remainder
		if err != nil || message != nil {
			return message, err
		}
	}
}

// invalidate moves the connection to StateBroken after failures that
// lose the stream position.
func (c *Connection) invalidate(err error) error {
	c.state = StateBroken
	c.broken = err
	return err
}

func (c *Connection) queryCommands(ctx context.Context) (map[string]struct{}, error) {
	var entries []struct {
		Name string `json:"name"`
	}
	if err := c.ExecuteInto(ctx, queryCommandsCommand, nil, &entries); err != nil {
		return nil, err
	}
	supported := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		supported[entry.Name] = struct{}{}
	}
	return supported, nil
}

func parseGreeting(message Message) (Version, string, error) {
	greetingError := func(format string, args ...any) error {
		return &CommunicationError{
			Op:  opGreeting,
			Err: fmt.Errorf("wrong server greeting: "+format, args...),
		}
	}

	body, ok := message[greetingKey].(map[string]any)
	if !ok {
		return Version{}, "", greetingError("missing %q object", greetingKey)
	}
	versionBody, _ := body["version"].(map[string]any)
	qemu, ok := versionBody["qemu"].(map[string]any)
	if !ok {
		return Version{}, "", greetingError("missing version information")
	}

	var version Version
	for _, field := range []struct {
		key    string
		target *int
	}{
		{"major", &version.Major},
		{"minor", &version.Minor},
		{"micro", &version.Micro},
	} {
		value, ok := qemu[field.key].(float64)
		if !ok {
			return Version{}, "", greetingError("version field %q missing or not a number", field.key)
		}
		*field.target = int(value)
	}

	packageName, ok := versionBody["package"].(string)
	if !ok {
		packageName, _ = body["package"].(string)
	}
	return version, strings.TrimSpace(packageName), nil
}
