// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestNameDescriptor(t *testing.T) {
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer reader.Close()
	defer writer.Close()

	monitor := startMonitor(t, func(p *peer) {
		p.handshake("getfd")
		message := p.expect("getfd")
		if len(p.descriptors) != 1 {
			p.t.Errorf("monitor holds %d descriptors after getfd, want 1", len(p.descriptors))
		}
		arguments, _ := message[argumentsKey].(map[string]any)
		if arguments["fdname"] != "hotnic-1-0" {
			p.t.Errorf("getfd fdname = %v, want hotnic-1-0", arguments["fdname"])
		}
		p.send(`{"return":{}}`)
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	if !connection.CanPassDescriptors() {
		t.Fatal("CanPassDescriptors() = false on a unix platform")
	}
	if err := connection.NameDescriptor(context.Background(), int(reader.Fd()), "hotnic-1-0"); err != nil {
		t.Fatalf("NameDescriptor: %v", err)
	}
	connection.Close()
	monitor.commands(t)
}

func TestAddAndReleaseDescriptorSet(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "disk-*.img")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer file.Close()

	monitor := startMonitor(t, func(p *peer) {
		p.handshake("add-fd", "remove-fd")
		p.expect("add-fd")
		if len(p.descriptors) != 1 {
			p.t.Errorf("monitor holds %d descriptors after add-fd, want 1", len(p.descriptors))
		}
		p.send(`{"return":{"fdset-id":7,"fd":23}}`)
		p.expect("remove-fd")
		p.send(`{"return":{}}`)
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	id, err := connection.AddDescriptorToSet(context.Background(), int(file.Fd()))
	if err != nil {
		t.Fatalf("AddDescriptorToSet: %v", err)
	}
	if id != 7 {
		t.Errorf("fd-set id = %d, want 7", id)
	}
	if FDSetPath(id) != "/dev/fdset/7" {
		t.Errorf("FDSetPath(7) = %q", FDSetPath(id))
	}
	connection.ReleaseDescriptorSet(context.Background(), id)
	connection.Close()

	received := monitor.arguments(t)
	if _, present := received["add-fd"]; !present {
		t.Fatalf("add-fd not received")
	}
	if received["add-fd"] != nil {
		t.Errorf("add-fd arguments = %v, want none so the monitor allocates the set", received["add-fd"])
	}
	if received["remove-fd"]["fdset-id"] != float64(7) {
		t.Errorf("remove-fd arguments = %v, want fdset-id 7", received["remove-fd"])
	}
}

func TestReleaseDescriptorSetLogsFailure(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("remove-fd")
		p.expect("remove-fd")
		p.send(`{"error":{"class":"GenericError","desc":"File descriptor named 'fdset-id:3' not found"}}`)
	})

	var logs bytes.Buffer
	connection := NewConnection(Config{
		SocketPath: monitor.path,
		Logger:     slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if err := connection.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer connection.Close()

	connection.ReleaseDescriptorSet(context.Background(), 3)
	if !strings.Contains(logs.String(), "releasing fd-set failed") {
		t.Errorf("release failure not logged; log output:\n%s", logs.String())
	}
	if connection.State() != StateReady {
		t.Errorf("State() = %v, want ready", connection.State())
	}
	connection.Close()
	monitor.commands(t)
}

func TestDescriptorPassingUnavailable(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("getfd", "add-fd")
	})

	connection := connectTo(t, monitor)
	defer connection.Close()
	connection.sender = nil

	if connection.CanPassDescriptors() {
		t.Errorf("CanPassDescriptors() = true without a sender")
	}
	if err := connection.NameDescriptor(context.Background(), 0, "x"); !errors.Is(err, ErrDescriptorPassingUnsupported) {
		t.Errorf("NameDescriptor error = %v, want ErrDescriptorPassingUnsupported", err)
	}
	if _, err := connection.AddDescriptorToSet(context.Background(), 0); !errors.Is(err, ErrDescriptorPassingUnsupported) {
		t.Errorf("AddDescriptorToSet error = %v, want ErrDescriptorPassingUnsupported", err)
	}
	connection.Close()
	if got := monitor.commands(t); len(got) != 2 {
		t.Errorf("monitor received %v, want only the handshake", got)
	}
}

func TestNameDescriptorUnsupportedCommandSendsNothing(t *testing.T) {
	monitor := startMonitor(t, func(p *peer) {
		p.handshake("netdev_add")
	})

	connection := connectTo(t, monitor)
	defer connection.Close()

	err := connection.NameDescriptor(context.Background(), 0, "x")
	if !IsUnsupported(err) {
		t.Fatalf("NameDescriptor error = %v, want unsupported getfd", err)
	}
	connection.Close()
	if got := monitor.commands(t); len(got) != 2 {
		t.Errorf("monitor received %v, want only the handshake", got)
	}
}
