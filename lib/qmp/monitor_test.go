// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hvkit/hvkit/lib/testutil"
)

// testGreeting is the greeting used by most tests. The package string
// sits beside "version", as some monitors send it.
const testGreeting = `{"QMP":{"version":{"qemu":{"major":2,"minor":1,"micro":0}},"package":"v2.1"}}`

// mockMonitor is an in-process QMP peer listening on a real Unix socket.
// It accepts a single connection and runs a script against it. After the
// script returns, it keeps reading until the client closes and then
// reports every command it received.
type mockMonitor struct {
	path     string
	received chan []Message
}

// peer is the server side of one accepted connection.
type peer struct {
	t           *testing.T
	conn        *net.UnixConn
	pending     []byte
	commands    []Message
	descriptors []int
}

func startMonitor(t *testing.T, script func(p *peer)) *mockMonitor {
	t.Helper()

	path := filepath.Join(testutil.SocketDir(t), "monitor.sock")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listening on %s: %v", path, err)
	}
	t.Cleanup(func() { listener.Close() })

	monitor := &mockMonitor{path: path, received: make(chan []Message, 1)}
	go func() {
		conn, err := listener.AcceptUnix()
		if err != nil {
			t.Errorf("accepting monitor connection: %v", err)
			close(monitor.received)
			return
		}
		defer conn.Close()

		p := &peer{t: t, conn: conn}
		defer p.closeDescriptors()
		script(p)
		for {
			if _, ok := p.next(); !ok {
				break
			}
		}
		monitor.received <- p.commands
	}()
	return monitor
}

// commands waits for the peer to finish and returns the names of every
// command it received, in order.
func (m *mockMonitor) commands(t *testing.T) []string {
	t.Helper()
	received := testutil.RequireReceive(t, m.received, 5*time.Second, "waiting for monitor to finish")
	names := make([]string, 0, len(received))
	for _, message := range received {
		name, _ := message[executeKey].(string)
		names = append(names, name)
	}
	return names
}

// arguments waits for the peer to finish and indexes the arguments of
// each received command by command name.
func (m *mockMonitor) arguments(t *testing.T) map[string]map[string]any {
	t.Helper()
	received := testutil.RequireReceive(t, m.received, 5*time.Second, "waiting for monitor to finish")
	indexed := make(map[string]map[string]any)
	for _, message := range received {
		name, _ := message[executeKey].(string)
		arguments, _ := message[argumentsKey].(map[string]any)
		indexed[name] = arguments
	}
	return indexed
}

func (p *peer) send(raw string) {
	if _, err := p.conn.Write([]byte(raw + "\r\n")); err != nil {
		p.t.Errorf("monitor write failed: %v", err)
	}
}

// sendRaw writes bytes without adding a terminator.
func (p *peer) sendRaw(raw string) {
	if _, err := p.conn.Write([]byte(raw)); err != nil {
		p.t.Errorf("monitor write failed: %v", err)
	}
}

// next returns the next command sent by the client, collecting any
// descriptors that arrive as ancillary data. It returns false once the
// client closes the connection.
func (p *peer) next() (Message, bool) {
	for {
		if index := bytes.Index(p.pending, messageTerminator); index >= 0 {
			line := bytes.TrimSpace(p.pending[:index])
			p.pending = p.pending[index+len(messageTerminator):]
			var message Message
			if err := json.Unmarshal(line, &message); err != nil {
				p.t.Errorf("monitor received malformed command %q: %v", line, err)
				return nil, false
			}
			p.commands = append(p.commands, message)
			return message, true
		}

		buffer := make([]byte, 4096)
		oob := make([]byte, unix.CmsgSpace(4*4))
		n, oobn, _, _, err := p.conn.ReadMsgUnix(buffer, oob)
		if oobn > 0 {
			p.collectDescriptors(oob[:oobn])
		}
		if n == 0 && err != nil {
			return nil, false
		}
		p.pending = append(p.pending, buffer[:n]...)
	}
}

// expect reads the next command and checks its name.
func (p *peer) expect(command string) Message {
	message, ok := p.next()
	if !ok {
		p.t.Errorf("monitor expected %q, connection closed", command)
		return nil
	}
	if name, _ := message[executeKey].(string); name != command {
		p.t.Errorf("monitor expected %q, got %q", command, name)
	}
	return message
}

// handshake performs the greeting and negotiation, advertising commands.
func (p *peer) handshake(commands ...string) {
	p.send(testGreeting)
	p.expect(capabilitiesCommand)
	p.send(`{"return":{}}`)
	p.expect(queryCommandsCommand)

	entries := make([]map[string]string, 0, len(commands))
	for _, command := range commands {
		entries = append(entries, map[string]string{"name": command})
	}
	data, _ := json.Marshal(map[string]any{"return": entries})
	p.send(string(data))
}

func (p *peer) collectDescriptors(oob []byte) {
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		p.t.Errorf("parsing control message: %v", err)
		return
	}
	for i := range messages {
		fds, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			p.t.Errorf("parsing unix rights: %v", err)
			continue
		}
		p.descriptors = append(p.descriptors, fds...)
	}
}

func (p *peer) closeDescriptors() {
	for _, fd := range p.descriptors {
		unix.Close(fd)
	}
}

// connectTo dials the mock monitor with a short receive timeout.
func connectTo(t *testing.T, monitor *mockMonitor) *Connection {
	t.Helper()
	connection, err := Dial(context.Background(), Config{
		SocketPath:     monitor.path,
		ReceiveTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return connection
}
