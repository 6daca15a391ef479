// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/hvkit/hvkit/lib/netutil"
)

// DefaultReceiveTimeout bounds every read from the monitor socket. A
// monitor that does not complete a message within this window is
// considered unresponsive.
const DefaultReceiveTimeout = 5 * time.Second

// Socket owns the Unix stream socket connected to one instance's
// monitor. It validates the socket path before dialing and applies the
// receive timeout to every read. Socket is not safe for concurrent use.
type Socket struct {
	path           string
	receiveTimeout time.Duration

	conn      *net.UnixConn
	connected bool
}

// NewSocket returns an unconnected socket for the monitor at path. A
// zero receiveTimeout selects DefaultReceiveTimeout.
func NewSocket(path string, receiveTimeout time.Duration) *Socket {
	if receiveTimeout <= 0 {
		receiveTimeout = DefaultReceiveTimeout
	}
	return &Socket{path: path, receiveTimeout: receiveTimeout}
}

// Path returns the filesystem path of the monitor socket.
func (s *Socket) Path() string { return s.path }

// Connected reports whether Connect succeeded and Close has not been
// called since.
func (s *Socket) Connected() bool { return s.connected }

// Connect verifies that the path names a socket and dials it. It fails
// with a *ConfigurationError when the path is missing or has the wrong
// type, and with a *CommunicationError on any OS-level failure.
// Connecting twice returns ErrAlreadyConnected. No retries are made.
func (s *Socket) Connect(ctx context.Context) error {
	if s.connected {
		return ErrAlreadyConnected
	}
	if err := s.checkSocket(); err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: s.receiveTimeout}
	conn, err := dialer.DialContext(ctx, "unix", s.path)
	if err != nil {
		return &CommunicationError{Op: "connect", Err: err}
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return &CommunicationError{Op: "connect", Err: fmt.Errorf("unexpected connection type %T", conn)}
	}

	s.conn = unixConn
	s.connected = true
	return nil
}

func (s *Socket) checkSocket() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ConfigurationError{Path: s.path, Reason: "no monitor socket found"}
		}
		return &ConfigurationError{Path: s.path, Reason: "error checking monitor socket", Err: err}
	}
	if info.Mode()&os.ModeSocket == 0 {
		return &ConfigurationError{Path: s.path, Reason: "not a socket"}
	}
	return nil
}

// Close releases the socket. The Socket must not be used afterwards
// except to Connect again.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.connected = false
	return err
}

// read performs one read bounded by the receive timeout, or by deadline
// when that is earlier. Zero-length reads and connection resets are
// reported as peer closure.
func (s *Socket) read(p []byte, deadline time.Time) (int, error) {
	if !s.connected {
		return 0, ErrNotConnected
	}
	limit := time.Now().Add(s.receiveTimeout)
	if !deadline.IsZero() && deadline.Before(limit) {
		limit = deadline
	}
	if err := s.conn.SetReadDeadline(limit); err != nil {
		return 0, &CommunicationError{Op: "receive", Err: err}
	}

	n, err := s.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		err = io.EOF
	}
	return 0, classifyIOError("receive", err)
}

// write sends data in full, bounded by the receive timeout.
func (s *Socket) write(data []byte) error {
	if !s.connected {
		return ErrNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.receiveTimeout)); err != nil {
		return &CommunicationError{Op: "send", Err: err}
	}
	if _, err := s.conn.Write(data); err != nil {
		return classifyIOError("send", err)
	}
	return nil
}

// unixConn exposes the connected socket to descriptor senders.
func (s *Socket) unixConn() (*net.UnixConn, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func classifyIOError(op string, err error) *CommunicationError {
	communicationError := &CommunicationError{Op: op, Err: err}
	var netError net.Error
	if errors.As(err, &netError) && netError.Timeout() {
		communicationError.timeout = true
	} else if netutil.IsExpectedCloseError(err) {
		communicationError.peerClosed = true
	}
	return communicationError
}
