// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package hotplug

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hvkit/hvkit/lib/qmp"
)

var _ Monitor = (*qmp.Connection)(nil)

// call is one interaction recorded by fakeMonitor.
type call struct {
	command   string
	arguments map[string]any
	fd        int
}

// fakeMonitor records every call and answers from per-command tables.
type fakeMonitor struct {
	supported   map[string]bool
	noPassing   bool
	results     map[string]any
	failures    map[string]error
	nextFDSet   int
	calls       []call
	releasedSet []int
}

func newFakeMonitor(commands ...string) *fakeMonitor {
	supported := make(map[string]bool, len(commands))
	for _, command := range commands {
		supported[command] = true
	}
	return &fakeMonitor{
		supported: supported,
		results:   make(map[string]any),
		failures:  make(map[string]error),
		nextFDSet: 4,
	}
}

func (f *fakeMonitor) Execute(_ context.Context, command string, arguments map[string]any) (any, error) {
	f.calls = append(f.calls, call{command: command, arguments: arguments, fd: -1})
	if err := f.failures[command]; err != nil {
		return nil, err
	}
	return f.results[command], nil
}

func (f *fakeMonitor) ExecuteInto(ctx context.Context, command string, arguments map[string]any, result any) error {
	payload, err := f.Execute(ctx, command, arguments)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (f *fakeMonitor) Supports(command string) bool { return f.supported[command] }

func (f *fakeMonitor) CanPassDescriptors() bool { return !f.noPassing }

func (f *fakeMonitor) NameDescriptor(_ context.Context, fd int, name string) error {
	f.calls = append(f.calls, call{command: commandGetFD, arguments: map[string]any{"fdname": name}, fd: fd})
	return f.failures[commandGetFD]
}

func (f *fakeMonitor) AddDescriptorToSet(_ context.Context, fd int) (int, error) {
	f.calls = append(f.calls, call{command: commandAddFD, fd: fd})
	if err := f.failures[commandAddFD]; err != nil {
		return 0, err
	}
	return f.nextFDSet, nil
}

func (f *fakeMonitor) ReleaseDescriptorSet(_ context.Context, id int) {
	f.calls = append(f.calls, call{command: "remove-fd", arguments: map[string]any{"fdset-id": id}, fd: -1})
	f.releasedSet = append(f.releasedSet, id)
}

func (f *fakeMonitor) commands() []string {
	names := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.command)
	}
	return names
}

// find returns the arguments of the nth call to command.
func (f *fakeMonitor) find(command string, n int) map[string]any {
	for _, c := range f.calls {
		if c.command != command {
			continue
		}
		if n == 0 {
			return c.arguments
		}
		n--
	}
	panic(fmt.Sprintf("no call %d to %s in %v", n, command, f.commands()))
}

// pciTopology builds a query-pci reply whose first bus holds devices at
// the given slots.
func pciTopology(slots ...int) []any {
	devices := make([]any, 0, len(slots))
	for _, slot := range slots {
		devices = append(devices, map[string]any{
			"bus":     0,
			"slot":    slot,
			"qdev_id": fmt.Sprintf("dev-%d", slot),
		})
	}
	return []any{
		map[string]any{"bus": 0, "devices": devices},
		map[string]any{"bus": 1, "devices": []any{}},
	}
}
