// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmptest_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hvkit/hvkit/lib/qmp"
	"github.com/hvkit/hvkit/lib/qmp/qmptest"
)

func TestServerHandshakeAndVersion(t *testing.T) {
	server := qmptest.NewServer(t, qmptest.Options{Major: 8, Minor: 2, Micro: 1, Package: "Debian 1:8.2.1", Events: true})

	connection, err := qmp.Dial(context.Background(), qmp.Config{SocketPath: server.Path, ReceiveTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer connection.Close()

	if got := connection.Version(); got != (qmp.Version{Major: 8, Minor: 2, Micro: 1}) {
		t.Errorf("Version = %v, want 8.2.1", got)
	}
	if got := connection.Package(); got != "Debian 1:8.2.1" {
		t.Errorf("Package = %q", got)
	}
	if !connection.Supports("device_add") {
		t.Error("device_add not advertised")
	}

	var version struct {
		QEMU struct {
			Major int `json:"major"`
		} `json:"qemu"`
	}
	if err := connection.ExecuteInto(context.Background(), "query-version", nil, &version); err != nil {
		t.Fatalf("query-version: %v", err)
	}
	if version.QEMU.Major != 8 {
		t.Errorf("query-version major = %d, want 8", version.QEMU.Major)
	}
	if got := server.Commands(); len(got) != 1 || got[0] != "query-version" {
		t.Errorf("recorded commands = %v, want [query-version]", got)
	}
}

func TestServerHandleOverride(t *testing.T) {
	server := qmptest.NewServer(t, qmptest.Options{})
	server.Handle("device_del", func(request qmptest.Request) (any, error) {
		return nil, &qmptest.Error{Class: "GenericError", Description: "Bus 'pci.0' does not support hotplugging"}
	})

	connection, err := qmp.Dial(context.Background(), qmp.Config{SocketPath: server.Path, ReceiveTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer connection.Close()

	_, err = connection.Execute(context.Background(), "device_del", map[string]any{"id": "hotnic-1"})
	var commandErr *qmp.CommandError
	if !errors.As(err, &commandErr) {
		t.Fatalf("device_del = %v, want *qmp.CommandError", err)
	}
	if commandErr.Description != "Bus 'pci.0' does not support hotplugging" {
		t.Errorf("Description = %q", commandErr.Description)
	}
}

func TestServerRequiresNegotiation(t *testing.T) {
	server := qmptest.NewServer(t, qmptest.Options{})

	conn, err := net.Dial("unix", server.Path)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	if greeting, err := reader.ReadString('\n'); err != nil || !strings.Contains(greeting, `"QMP"`) {
		t.Fatalf("greeting = %q, %v", greeting, err)
	}
	if _, err := conn.Write([]byte(`{"execute":"query-pci"}` + "\r\n")); err != nil {
		t.Fatal(err)
	}
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "CommandNotFound") || !strings.Contains(reply, "qmp_capabilities") {
		t.Errorf("reply before negotiation = %q", reply)
	}
}

func TestServerClientDisconnect(t *testing.T) {
	server := qmptest.NewServer(t, qmptest.Options{})

	for range 3 {
		connection, err := qmp.Dial(context.Background(), qmp.Config{SocketPath: server.Path, ReceiveTimeout: 2 * time.Second})
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		if _, err := connection.Execute(context.Background(), "query-version", nil); err != nil {
			t.Fatalf("query-version: %v", err)
		}
		connection.Close()
	}

	// Each session must notice the close and end without disturbing
	// the server.
	deadline := time.Now().Add(5 * time.Second)
	for server.OpenConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d sessions still open after clients disconnected", server.OpenConnections())
		}
		time.Sleep(5 * time.Millisecond)
	}

	connection, err := qmp.Dial(context.Background(), qmp.Config{SocketPath: server.Path, ReceiveTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Dial after disconnects: %v", err)
	}
	defer connection.Close()
	if _, err := connection.Execute(context.Background(), "query-pci", nil); err != nil {
		t.Fatalf("query-pci after disconnects: %v", err)
	}
	if got := server.Connections(); got != 4 {
		t.Errorf("Connections = %d, want 4", got)
	}
}
