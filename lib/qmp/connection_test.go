// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestConnectHandshake(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("device_add", "netdev_add")
	})

	connection := connectTo(t, monitor)

	if got, want := connection.Version(), (Version{Major: 2, Minor: 1, Micro: 0}); got != want {
		t.Errorf("Version() = %v, want %v", got, want)
	}
	if connection.Package() != "v2.1" {
		t.Errorf("Package() = %q, want v2.1", connection.Package())
	}
	if got, want := connection.SupportedCommands(), []string{"device_add", "netdev_add"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SupportedCommands() = %v, want %v", got, want)
	}
	if connection.State() != StateReady {
		t.Errorf("State() = %v, want ready", connection.State())
	}

	_, err := connection.Execute(context.Background(), "device_del", map[string]any{"id": "hotnic-1"})
	var unsupported *UnsupportedCommandError
	if !errors.As(err, &unsupported) || unsupported.Command != "device_del" {
		t.Fatalf("Execute(device_del) error = %v, want *UnsupportedCommandError", err)
	}
	if !IsUnsupported(err) {
		t.Errorf("IsUnsupported(%v) = false", err)
	}

	connection.Close()

	// qmp_capabilities is not in the advertised catalogue, yet it was
	// sent: the catalogue does not gate the handshake window. Nothing
	// was written for device_del.
	got := monitor.commands(t)
	want := []string{capabilitiesCommand, queryCommandsCommand}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("monitor received %v, want %v", got, want)
	}
}

func TestConnectPackageInsideVersion(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.send(`{"QMP":{"version":{"qemu":{"major":8,"minor":2,"micro":1},"package":" Debian 1:8.2.1 "},"capabilities":[]}}`)
		p.expect(capabilitiesCommand)
		p.send(`{"return":{}}`)
		p.expect(queryCommandsCommand)
		p.send(`{"return":[{"name":"query-pci"}]}`)
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	if got := connection.Version(); got != (Version{Major: 8, Minor: 2, Micro: 1}) {
		t.Errorf("Version() = %v", got)
	}
	if connection.Package() != "Debian 1:8.2.1" {
		t.Errorf("Package() = %q, want trimmed package string", connection.Package())
	}
	if !connection.Version().AtLeast(2, 8) || connection.Version().AtLeast(9, 0) {
		t.Errorf("AtLeast comparisons wrong for %v", connection.Version())
	}
	connection.Close()
	monitor.commands(t)
}

func TestConnectRejectsWrongGreeting(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.send(`{"return":{}}`)
	})

	connection := NewConnection(Config{SocketPath: monitor.path, ReceiveTimeout: 2 * time.Second})
	err := connection.Connect(context.Background())
	var communicationError *CommunicationError
	if !errors.As(err, &communicationError) || !communicationError.Greeting() {
		t.Fatalf("Connect error = %v, want greeting *CommunicationError", err)
	}
	if connection.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", connection.State())
	}
	if got := monitor.commands(t); len(got) != 0 {
		t.Errorf("monitor received %v after a bad greeting, want nothing", got)
	}
}

func TestConnectDiscardsDuplicateGreeting(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		// Two greetings in one write: the second must be dropped with
		// the buffer rather than mistaken for the capabilities reply.
		p.sendRaw(testGreeting + "\r\n" + testGreeting + "\r\n")
		p.expect(capabilitiesCommand)
		p.send(`{"return":{}}`)
		p.expect(queryCommandsCommand)
		p.send(`{"return":[{"name":"query-status"}]}`)
	})

	connection := connectTo(t, monitor)
	if !connection.Supports("query-status") {
		t.Errorf("Supports(query-status) = false after handshake")
	}
	connection.Close()
	monitor.commands(t)
}

func TestConnectTwice(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("query-status")
	})
	connection := connectTo(t, monitor)
	if err := connection.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect error = %v, want ErrAlreadyConnected", err)
	}
	connection.Close()
	monitor.commands(t)
}

func TestExecuteDiscardsEvents(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("query-status")
		p.expect("query-status")
		p.send(`{"event":"RESUME","timestamp":{"seconds":1,"microseconds":2}}`)
		p.send(`{"event":"NIC_RX_FILTER_CHANGED","data":{"name":"hotnic-1"}}`)
		p.send(`{"return":{"running":true,"status":"running"}}`)
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	result, err := connection.Execute(context.Background(), "query-status", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := map[string]any{"running": true, "status": "running"}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("result = %v, want %v", result, want)
	}
	connection.Close()
	monitor.commands(t)
}

func TestExecuteReadsSplitReply(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("query-status")
		p.expect("query-status")
		p.sendRaw(`{"return":{"sta`)
		time.Sleep(20 * time.Millisecond)
		p.sendRaw(`tus":"paused"}}` + "\r")
		time.Sleep(20 * time.Millisecond)
		p.sendRaw("\n" + `{"event":"ST`)
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	var status struct {
		Status string `json:"status"`
	}
	if err := connection.ExecuteInto(context.Background(), "query-status", nil, &status); err != nil {
		t.Fatalf("ExecuteInto: %v", err)
	}
	if status.Status != "paused" {
		t.Errorf("status = %q, want paused", status.Status)
	}
	connection.Close()
	monitor.commands(t)
}

func TestExecuteCommandError(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("device_del")
		p.expect("device_del")
		p.send(`{"event":"RESUME"}`)
		p.send(`{"error":{"class":"DeviceNotFound","desc":"Device 'hotnic-9' not found"}}`)
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	_, err := connection.Execute(context.Background(), "device_del", map[string]any{"id": "hotnic-9"})
	var commandError *CommandError
	if !errors.As(err, &commandError) {
		t.Fatalf("Execute error = %v, want *CommandError", err)
	}
	if commandError.Class != "DeviceNotFound" || commandError.Description != "Device 'hotnic-9' not found" {
		t.Errorf("CommandError = %+v", commandError)
	}
	if connection.State() != StateReady {
		t.Errorf("State() = %v after a remote error, want ready", connection.State())
	}
	connection.Close()

	received := monitor.arguments(t)
	if id := received["device_del"]["id"]; id != "hotnic-9" {
		t.Errorf("device_del arguments id = %v, want hotnic-9", id)
	}
}

func TestExecuteTimeoutBreaksConnection(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("query-status")
		p.expect("query-status")
		// No reply.
	})

	connection, err := Dial(context.Background(), Config{
		SocketPath:     monitor.path,
		ReceiveTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer connection.Close()

	_, err = connection.Execute(context.Background(), "query-status", nil)
	var communicationError *CommunicationError
	if !errors.As(err, &communicationError) || !communicationError.Timeout() {
		t.Fatalf("Execute error = %v, want timeout *CommunicationError", err)
	}
	if connection.State() != StateBroken {
		t.Errorf("State() = %v, want broken", connection.State())
	}

	_, err = connection.Execute(context.Background(), "query-status", nil)
	if !errors.As(err, &communicationError) {
		t.Errorf("Execute after timeout error = %v, want the original *CommunicationError", err)
	}

	connection.Close()
	if got := monitor.commands(t); len(got) != 3 {
		t.Errorf("monitor received %v, want exactly one query-status after the handshake", got)
	}
}

func TestExecutePeerClosed(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("quit")
		p.expect("quit")
		p.conn.Close()
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	_, err := connection.Execute(context.Background(), "quit", nil)
	var communicationError *CommunicationError
	if !errors.As(err, &communicationError) || !communicationError.PeerClosed() {
		t.Fatalf("Execute error = %v, want peer-closed *CommunicationError", err)
	}
	monitor.commands(t)
}

func TestExecuteContextDeadline(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("query-status")
		p.expect("query-status")
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := connection.Execute(ctx, "query-status", nil)
	var communicationError *CommunicationError
	if !errors.As(err, &communicationError) || !communicationError.Timeout() {
		t.Fatalf("Execute error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute took %v, want the context deadline to shorten the read", elapsed)
	}
	connection.Close()
	monitor.commands(t)
}

func TestExecuteBeforeConnect(t *testing.T) {
	connection := NewConnection(Config{SocketPath: "/nonexistent/monitor.sock"})
	if _, err := connection.Execute(context.Background(), "query-status", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Execute error = %v, want ErrNotConnected", err)
	}
}
