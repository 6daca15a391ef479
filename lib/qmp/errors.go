// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a send or receive is attempted on a
// socket or connection that has not completed Connect. It indicates a
// programming error in the caller, not a runtime condition.
var ErrNotConnected = errors.New("qmp: monitor socket is not connected")

// ErrAlreadyConnected is returned by Connect on an instance that is
// already connected. Connections are single-use: close and create a new
// one instead.
var ErrAlreadyConnected = errors.New("qmp: monitor socket is already connected")

// ErrDescriptorPassingUnsupported is returned when a descriptor transfer
// is requested but no DescriptorSender is available on this platform.
var ErrDescriptorPassingUnsupported = errors.New("qmp: descriptor passing is not supported on this platform")

// ConfigurationError reports that the monitor socket path is missing or
// is not a socket. Retrying will not help until the configuration or
// the instance changes.
type ConfigurationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("qmp: monitor socket %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("qmp: monitor socket %s: %s", e.Path, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CommunicationError reports a socket-level failure: connect refused,
// read timeout, peer close, or any other I/O error. The connection that
// produced it cannot be used again; the caller decides whether to retry
// on a fresh connection.
type CommunicationError struct {
	// Op names the phase that failed ("connect", "send", "receive",
	// "greeting", "transfer descriptor").
	Op string

	// Err is the underlying OS or protocol error.
	Err error

	timeout    bool
	peerClosed bool
}

func (e *CommunicationError) Error() string {
	switch {
	case e.timeout:
		return fmt.Sprintf("qmp: %s: timed out: %v", e.Op, e.Err)
	case e.peerClosed:
		return fmt.Sprintf("qmp: %s: connection closed by monitor", e.Op)
	}
	return fmt.Sprintf("qmp: %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a receive or send timeout.
func (e *CommunicationError) Timeout() bool { return e.timeout }

// PeerClosed reports whether the monitor closed its end of the socket.
func (e *CommunicationError) PeerClosed() bool { return e.peerClosed }

// opGreeting is the Op of a greeting that does not look like QMP.
const opGreeting = "greeting"

// Greeting reports whether the peer answered with something other than
// a QMP greeting. The socket works but speaks another protocol, so
// reconnecting will not help.
func (e *CommunicationError) Greeting() bool { return e.Op == opGreeting }

// SerializationError reports malformed JSON received from the monitor
// or a value that could not be encoded for sending. It signals a
// protocol or version mismatch and is never retried.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("qmp: data serialization error: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// CommandError is a failure reported by the monitor itself in an error
// reply. Class and Description are copied verbatim from the wire.
type CommandError struct {
	Command     string
	Class       string
	Description string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("qmp: error executing the %s command: %s (%s)", e.Command, e.Description, e.Class)
}

// UnsupportedCommandError is returned by Execute, without touching the
// socket, when the monitor's command catalogue does not list the
// command. Callers use it to fall back to another mechanism without a
// wasted round trip.
type UnsupportedCommandError struct {
	Command string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("qmp: instance does not support the %q command", e.Command)
}

// IsUnsupported reports whether err is (or wraps) an UnsupportedCommandError.
func IsUnsupported(err error) bool {
	var unsupported *UnsupportedCommandError
	return errors.As(err, &unsupported)
}
