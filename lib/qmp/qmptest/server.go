// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

// Package qmptest provides an in-process QMP monitor for tests.
//
// A [Server] listens on a real Unix socket, greets each client,
// enforces capability negotiation, accepts descriptors passed with
// SCM_RIGHTS, and keeps enough device state (netdevs, block backends,
// fd-sets, a PCI bus) to answer the commands hot-plug operations send.
// Individual commands can be overridden with [Server.Handle] to inject
// error replies or unusual payloads.
package qmptest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/hvkit/hvkit/lib/testutil"
)

// DefaultCommands is the command catalogue advertised unless
// Options.Commands is set.
var DefaultCommands = []string{
	"qmp_capabilities",
	"query-commands",
	"query-version",
	"query-pci",
	"getfd",
	"closefd",
	"add-fd",
	"remove-fd",
	"netdev_add",
	"netdev_del",
	"blockdev-add",
	"device_add",
	"device_del",
}

// DefaultDevices is the PCI bus of a freshly booted instance: host
// bridge, ISA bridge, and VGA in slots 0 to 2.
var DefaultDevices = []Device{
	{Slot: 0, ID: ""},
	{Slot: 1, ID: ""},
	{Slot: 2, ID: ""},
}

// Device is a device on the emulated PCI bus.
type Device struct {
	Slot int    `json:"slot"`
	ID   string `json:"qdev_id"`
}

// Error is an error reply. Returning one from a HandlerFunc sends
// {"error":{"class":...,"desc":...}}.
type Error struct {
	Class       string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Description)
}

func genericError(format string, args ...any) *Error {
	return &Error{Class: "GenericError", Description: fmt.Sprintf(format, args...)}
}

// HandlerFunc answers one command. The returned value becomes the
// "return" member; a returned *Error becomes an error reply.
type HandlerFunc func(request Request) (any, error)

// Request is a command received by the server.
type Request struct {
	Command   string
	Arguments map[string]any

	// Descriptors counts the SCM_RIGHTS descriptors that arrived
	// with the command.
	Descriptors int
}

// Options configures a Server.
type Options struct {
	// Major, Minor and Micro form the advertised version. Zero
	// values select 2.1.0.
	Major, Minor, Micro int

	// Package is the advertised package string.
	Package string

	// Commands overrides DefaultCommands.
	Commands []string

	// Devices overrides DefaultDevices.
	Devices []Device

	// Events makes the server send an event ahead of every reply.
	Events bool
}

// Server is an emulated QMP monitor.
type Server struct {
	// Path is the monitor socket.
	Path string

	t        testing.TB
	listener *net.UnixListener
	options  Options
	wait     sync.WaitGroup

	mu          sync.Mutex
	handlers    map[string]HandlerFunc
	devices     []Device
	netdevs     map[string]struct{}
	blockdevs   map[string]string
	namedFDs    map[string]struct{}
	fdsets      map[int]struct{}
	nextFDSet   int
	requests    []Request
	connections int
	open        map[*net.UnixConn]struct{}
}

// NewServer starts a monitor on a fresh socket. It is closed
// automatically when the test ends.
func NewServer(t *testing.T, options Options) *Server {
	t.Helper()

	if options.Major == 0 && options.Minor == 0 && options.Micro == 0 {
		options.Major, options.Minor = 2, 1
	}
	if options.Commands == nil {
		options.Commands = DefaultCommands
	}
	devices := options.Devices
	if devices == nil {
		devices = DefaultDevices
	}

	path := filepath.Join(testutil.SocketDir(t), testutil.UniqueID("monitor")+".qmp")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listening on %s: %v", path, err)
	}

	server := &Server{
		Path:      path,
		t:         t,
		listener:  listener,
		options:   options,
		handlers:  make(map[string]HandlerFunc),
		devices:   slices.Clone(devices),
		netdevs:   make(map[string]struct{}),
		blockdevs: make(map[string]string),
		namedFDs:  make(map[string]struct{}),
		fdsets:    make(map[int]struct{}),
		open:      make(map[*net.UnixConn]struct{}),
	}
	server.wait.Add(1)
	go server.accept()
	t.Cleanup(server.Close)
	return server
}

// Close stops accepting connections, drops open ones, and waits for
// their goroutines to exit.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for conn := range s.open {
		conn.Close()
	}
	s.mu.Unlock()
	s.wait.Wait()
}

// Handle overrides the built-in behavior of command. The handshake
// commands qmp_capabilities and query-commands cannot be overridden.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

// Requests returns every command received so far, across connections,
// excluding qmp_capabilities and query-commands.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Commands returns the names of Requests in order.
func (s *Server) Commands() []string {
	requests := s.Requests()
	names := make([]string, len(requests))
	for i, request := range requests {
		names[i] = request.Command
	}
	return names
}

// Devices returns the current PCI bus contents.
func (s *Server) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.devices)
}

// HasNetdev reports whether a network backend id exists.
func (s *Server) HasNetdev(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.netdevs[id]
	return ok
}

// BlockdevFilename returns the filename a block backend was opened
// with.
func (s *Server) BlockdevFilename(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filename, ok := s.blockdevs[id]
	return filename, ok
}

// OpenFDSets returns the number of fd-sets not yet removed.
func (s *Server) OpenFDSets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fdsets)
}

// Connections returns how many clients have connected.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// OpenConnections returns how many clients are connected now.
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *Server) accept() {
	defer s.wait.Done()
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.connections++
		s.open[conn] = struct{}{}
		s.mu.Unlock()

		s.wait.Add(1)
		go func() {
			defer s.wait.Done()
			defer func() {
				s.mu.Lock()
				delete(s.open, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.serve(conn)
		}()
	}
}

// session is the state of one client connection.
type session struct {
	conn       *net.UnixConn
	pending    []byte
	fds        []int
	negotiated bool
}

func (s *Server) serve(conn *net.UnixConn) {
	client := &session{conn: conn}
	defer client.closeDescriptors()

	greeting := map[string]any{"QMP": map[string]any{
		"version": map[string]any{
			"qemu": map[string]int{
				"major": s.options.Major,
				"minor": s.options.Minor,
				"micro": s.options.Micro,
			},
			"package": s.options.Package,
		},
		"capabilities": []string{},
	}}
	if !client.write(greeting) {
		return
	}

	for {
		request, ok := client.next(s.t)
		if !ok {
			return
		}
		result, err := s.dispatch(client, request)
		if s.options.Events && !client.write(map[string]any{
			"event":     "RTC_CHANGE",
			"data":      map[string]any{"offset": 0},
			"timestamp": map[string]int{"seconds": 0, "microseconds": 0},
		}) {
			return
		}

		var reply map[string]any
		var replyErr *Error
		switch {
		case errors.As(err, &replyErr):
			reply = map[string]any{"error": map[string]string{"class": replyErr.Class, "desc": replyErr.Description}}
		case err != nil:
			reply = map[string]any{"error": map[string]string{"class": "GenericError", "desc": err.Error()}}
		default:
			if result == nil {
				result = map[string]any{}
			}
			reply = map[string]any{"return": result}
		}
		if !client.write(reply) {
			return
		}

		if request.Command == "device_del" && err == nil {
			client.write(map[string]any{
				"event":     "DEVICE_DELETED",
				"data":      map[string]any{"device": request.Arguments["id"]},
				"timestamp": map[string]int{"seconds": 0, "microseconds": 0},
			})
		}
	}
}

func (s *Server) dispatch(client *session, request Request) (any, error) {
	defer client.closeDescriptors()

	if request.Command == "qmp_capabilities" {
		if client.negotiated {
			return nil, &Error{Class: "CommandNotFound", Description: "Capabilities negotiation is already complete, command ignored"}
		}
		client.negotiated = true
		return nil, nil
	}
	if !client.negotiated {
		return nil, &Error{Class: "CommandNotFound", Description: "Expecting capabilities negotiation with 'qmp_capabilities'"}
	}

	if request.Command == "query-commands" {
		entries := make([]map[string]string, len(s.options.Commands))
		for i, name := range s.options.Commands {
			entries[i] = map[string]string{"name": name}
		}
		return entries, nil
	}

	s.mu.Lock()
	s.requests = append(s.requests, request)
	handler, overridden := s.handlers[request.Command]
	s.mu.Unlock()
	if overridden {
		return handler(request)
	}
	if !slices.Contains(s.options.Commands, request.Command) {
		return nil, &Error{Class: "CommandNotFound", Description: fmt.Sprintf("The command %s has not been found", request.Command)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builtin(request)
}

// builtin implements the default command set. Called with mu held.
func (s *Server) builtin(request Request) (any, error) {
	arguments := request.Arguments
	switch request.Command {
	case "query-version":
		return map[string]any{
			"qemu":    map[string]int{"major": s.options.Major, "minor": s.options.Minor, "micro": s.options.Micro},
			"package": s.options.Package,
		}, nil

	case "query-pci":
		return []map[string]any{{"bus": 0, "devices": slices.Clone(s.devices)}}, nil

	case "getfd":
		name, _ := arguments["fdname"].(string)
		if request.Descriptors == 0 {
			return nil, genericError("No file descriptor supplied via SCM_RIGHTS")
		}
		if name == "" || name[0] >= '0' && name[0] <= '9' {
			return nil, genericError("Parameter 'fdname' expects a name not starting with a digit")
		}
		s.namedFDs[name] = struct{}{}
		return nil, nil

	case "closefd":
		name, _ := arguments["fdname"].(string)
		if _, ok := s.namedFDs[name]; !ok {
			return nil, genericError("File descriptor named '%s' not found", name)
		}
		delete(s.namedFDs, name)
		return nil, nil

	case "add-fd":
		if request.Descriptors == 0 {
			return nil, genericError("No file descriptor supplied via SCM_RIGHTS")
		}
		id := s.nextFDSet
		s.nextFDSet++
		s.fdsets[id] = struct{}{}
		return map[string]int{"fdset-id": id, "fd": 3 + id}, nil

	case "remove-fd":
		id, ok := integer(arguments["fdset-id"])
		if _, exists := s.fdsets[id]; !ok || !exists {
			return nil, genericError("File descriptor named 'fdset-id:%v' not found", arguments["fdset-id"])
		}
		delete(s.fdsets, id)
		return nil, nil

	case "netdev_add":
		id, _ := arguments["id"].(string)
		if id == "" {
			return nil, genericError("Parameter 'id' is missing")
		}
		if _, exists := s.netdevs[id]; exists {
			return nil, genericError("Duplicate ID '%s' for netdev", id)
		}
		for _, field := range []string{"fds", "vhostfds"} {
			value, _ := arguments[field].(string)
			if value == "" {
				continue
			}
			for name := range strings.SplitSeq(value, ":") {
				if _, ok := s.namedFDs[name]; !ok {
					return nil, genericError("File descriptor named '%s' has not been found", name)
				}
				delete(s.namedFDs, name)
			}
		}
		s.netdevs[id] = struct{}{}
		return nil, nil

	case "netdev_del":
		id, _ := arguments["id"].(string)
		if _, exists := s.netdevs[id]; !exists {
			return nil, &Error{Class: "DeviceNotFound", Description: fmt.Sprintf("Device '%s' not found", id)}
		}
		delete(s.netdevs, id)
		return nil, nil

	case "blockdev-add":
		options, _ := arguments["options"].(map[string]any)
		id, _ := options["id"].(string)
		file, _ := options["file"].(map[string]any)
		filename, _ := file["filename"].(string)
		if id == "" {
			return nil, genericError("Block device needs an ID")
		}
		if _, exists := s.blockdevs[id]; exists {
			return nil, genericError("Duplicate ID '%s' for drive", id)
		}
		if strings.HasPrefix(filename, "/dev/fdset/") {
			setID, err := strconv.Atoi(strings.TrimPrefix(filename, "/dev/fdset/"))
			if _, exists := s.fdsets[setID]; err != nil || !exists {
				return nil, genericError("Could not open '%s': No such file or directory", filename)
			}
		}
		s.blockdevs[id] = filename
		return nil, nil

	case "device_add":
		return nil, s.addDevice(arguments)

	case "device_del":
		id, _ := arguments["id"].(string)
		index := slices.IndexFunc(s.devices, func(device Device) bool { return id != "" && device.ID == id })
		if index < 0 {
			return nil, &Error{Class: "DeviceNotFound", Description: fmt.Sprintf("Device '%s' not found", id)}
		}
		s.devices = slices.Delete(s.devices, index, index+1)
		return nil, nil
	}
	return nil, genericError("command %s is advertised but not emulated", request.Command)
}

func (s *Server) addDevice(arguments map[string]any) error {
	driver, _ := arguments["driver"].(string)
	id, _ := arguments["id"].(string)
	address, _ := arguments["addr"].(string)
	slot, err := strconv.ParseInt(strings.TrimPrefix(address, "0x"), 16, 32)
	if err != nil || slot < 0 || slot >= 32 {
		return genericError("Property '%s.addr' doesn't take value '%s'", driver, address)
	}
	if slices.ContainsFunc(s.devices, func(device Device) bool { return id != "" && device.ID == id }) {
		return genericError("Duplicate ID '%s' for device", id)
	}
	if index := slices.IndexFunc(s.devices, func(device Device) bool { return device.Slot == int(slot) }); index >= 0 {
		return genericError("PCI: slot %d function 0 not available for %s, in use by %s", slot, driver, s.devices[index].ID)
	}

	switch driver {
	case "virtio-net-pci":
		netdev, _ := arguments["netdev"].(string)
		if _, ok := s.netdevs[netdev]; !ok {
			return genericError("Property '%s.netdev' can't find value '%s'", driver, netdev)
		}
	case "virtio-blk-pci":
		drive, _ := arguments["drive"].(string)
		if _, ok := s.blockdevs[drive]; !ok {
			return genericError("Property '%s.drive' can't find value '%s'", driver, drive)
		}
	default:
		return genericError("Parameter 'driver' expects a pluggable device type")
	}

	s.devices = append(s.devices, Device{Slot: int(slot), ID: id})
	slices.SortFunc(s.devices, func(a, b Device) int { return a.Slot - b.Slot })
	return nil
}

func integer(value any) (int, bool) {
	number, ok := value.(float64)
	if !ok || number != float64(int(number)) {
		return 0, false
	}
	return int(number), true
}

// next reads one command, attributing any descriptors received since
// the previous command to it.
func (c *session) next(t testing.TB) (Request, bool) {
	for {
		if index := bytes.IndexByte(c.pending, '\n'); index >= 0 {
			line := bytes.TrimSpace(c.pending[:index])
			c.pending = c.pending[index+1:]
			if len(line) == 0 {
				continue
			}
			var message struct {
				Execute   string         `json:"execute"`
				Arguments map[string]any `json:"arguments"`
			}
			if err := json.Unmarshal(line, &message); err != nil {
				t.Errorf("qmptest: malformed command %q: %v", line, err)
				return Request{}, false
			}
			return Request{Command: message.Execute, Arguments: message.Arguments, Descriptors: len(c.fds)}, true
		}

		buffer := make([]byte, 4096)
		oob := make([]byte, unix.CmsgSpace(16*4))
		n, oobn, _, _, err := c.conn.ReadMsgUnix(buffer, oob)
		if oobn > 0 {
			c.collect(t, oob[:oobn])
		}
		// ReadMsgUnix reports n == -1 alongside some errors.
		if n > 0 {
			c.pending = append(c.pending, buffer[:n]...)
		}
		if err != nil || n == 0 {
			return Request{}, false
		}
	}
}

func (c *session) collect(t testing.TB, oob []byte) {
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		t.Errorf("qmptest: parsing control message: %v", err)
		return
	}
	for i := range messages {
		fds, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			continue
		}
		c.fds = append(c.fds, fds...)
	}
}

func (c *session) closeDescriptors() {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
}

func (c *session) write(message any) bool {
	data, err := json.Marshal(message)
	if err != nil {
		return false
	}
	_, err = c.conn.Write(append(data, '\r', '\n'))
	return err == nil
}
