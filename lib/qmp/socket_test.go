// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/hvkit/hvkit/lib/testutil"
)

func TestSocketConnectMissingPath(t *testing.T) {
	socket := NewSocket(filepath.Join(testutil.SocketDir(t), "absent.sock"), 0)
	err := socket.Connect(context.Background())
	var configurationError *ConfigurationError
	if !errors.As(err, &configurationError) {
		t.Fatalf("Connect error = %v, want *ConfigurationError", err)
	}
	if socket.Connected() {
		t.Errorf("Connected() = true after failure")
	}
}

func TestSocketConnectNotASocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := NewSocket(path, 0).Connect(context.Background())
	var configurationError *ConfigurationError
	if !errors.As(err, &configurationError) || configurationError.Reason != "not a socket" {
		t.Fatalf("Connect error = %v, want not-a-socket *ConfigurationError", err)
	}
}

func TestSocketConnectRefused(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "stale.sock")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	// Leave the socket file behind with nobody listening, as a crashed
	// emulator does.
	listener.SetUnlinkOnClose(false)
	listener.Close()

	err = NewSocket(path, 0).Connect(context.Background())
	var communicationError *CommunicationError
	if !errors.As(err, &communicationError) || communicationError.Op != "connect" {
		t.Fatalf("Connect error = %v, want connect *CommunicationError", err)
	}
}

func TestSocketLifecycle(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "monitor.sock")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	defer listener.Close()

	socket := NewSocket(path, 0)
	if err := socket.write([]byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("write before Connect error = %v, want ErrNotConnected", err)
	}
	if err := socket.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := socket.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect error = %v, want ErrAlreadyConnected", err)
	}
	if err := socket.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if socket.Connected() {
		t.Errorf("Connected() = true after Close")
	}
}
