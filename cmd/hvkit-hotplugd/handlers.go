// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hvkit/hvkit/lib/codec"
	"github.com/hvkit/hvkit/lib/hotplug"
	"github.com/hvkit/hvkit/lib/service"
	"github.com/hvkit/hvkit/lib/version"
)

// registerActions wires every action onto server, wrapped with request
// metrics.
func (a *agent) registerActions(server *service.SocketServer) {
	server.Handle("status", a.instrument("status", a.handleStatus))
	server.Handle("info", a.instrument("info", a.handleInfo))
	server.Handle("pci-devices", a.instrument("pci-devices", a.handlePCIDevices))
	server.Handle("free-pci-slot", a.instrument("free-pci-slot", a.handleFreePCISlot))
	server.Handle("hot-add-nic", a.instrument("hot-add-nic", a.handleHotAddNIC))
	server.Handle("hot-del-nic", a.instrument("hot-del-nic", a.handleHotDelNIC))
	server.Handle("hot-add-disk", a.instrument("hot-add-disk", a.handleHotAddDisk))
	server.Handle("hot-del-disk", a.instrument("hot-del-disk", a.handleHotDelDisk))
}

func (a *agent) instrument(action string, handler service.ActionFunc) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		a.metrics.inFlight.Inc()
		defer a.metrics.inFlight.Dec()
		started := time.Now()
		result, err := handler(ctx, raw)
		a.metrics.observe(action, started, err)
		return result, err
	}
}

// decode unmarshals the CBOR request into request.
func decode(raw []byte, request any) error {
	if err := codec.Unmarshal(raw, request); err != nil {
		return &requestError{Field: "body", Reason: fmt.Sprintf("is not a valid request: %v", err)}
	}
	return nil
}

// --- status ---

type statusResponse struct {
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	Version       string  `cbor:"version"`
	Instances     int     `cbor:"instances"`
}

func (a *agent) handleStatus(_ context.Context, _ []byte) (any, error) {
	return statusResponse{
		UptimeSeconds: time.Since(a.startedAt).Seconds(),
		Version:       version.Info(),
		Instances:     a.locks.Count(),
	}, nil
}

// --- info ---

type instanceRequest struct {
	Instance string `cbor:"instance"`
}

type infoResponse struct {
	RequestID string   `cbor:"request_id"`
	Instance  string   `cbor:"instance"`
	Socket    string   `cbor:"socket"`
	Version   string   `cbor:"version"`
	Package   string   `cbor:"package,omitempty"`
	Commands  []string `cbor:"commands"`
}

func (a *agent) handleInfo(ctx context.Context, raw []byte) (any, error) {
	var request instanceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	var response infoResponse
	err := a.withInstance(ctx, "info", request.Instance, func(scope *requestScope) error {
		response = infoResponse{
			RequestID: scope.id,
			Instance:  scope.instance,
			Socket:    scope.connection.SocketPath(),
			Version:   scope.connection.Version().String(),
			Package:   scope.connection.Package(),
			Commands:  scope.connection.SupportedCommands(),
		}
		return nil
	})
	return response, err
}

// --- pci-devices ---

type pciDevice struct {
	Slot int    `cbor:"slot"`
	ID   string `cbor:"id"`
}

type pciDevicesResponse struct {
	RequestID string      `cbor:"request_id"`
	Devices   []pciDevice `cbor:"devices"`
}

func (a *agent) handlePCIDevices(ctx context.Context, raw []byte) (any, error) {
	var request instanceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	var response pciDevicesResponse
	err := a.withInstance(ctx, "pci-devices", request.Instance, func(scope *requestScope) error {
		devices, err := scope.operator.PCIDevices(ctx)
		if err != nil {
			return err
		}
		response.RequestID = scope.id
		response.Devices = make([]pciDevice, 0, len(devices))
		for _, device := range devices {
			response.Devices = append(response.Devices, pciDevice{Slot: device.Slot, ID: device.ID})
		}
		return nil
	})
	return response, err
}

// --- free-pci-slot ---

type freeSlotResponse struct {
	RequestID string `cbor:"request_id"`
	Slot      int    `cbor:"slot"`
}

func (a *agent) handleFreePCISlot(ctx context.Context, raw []byte) (any, error) {
	var request instanceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	var response freeSlotResponse
	err := a.withInstance(ctx, "free-pci-slot", request.Instance, func(scope *requestScope) error {
		slot, err := scope.operator.FreePCISlot(ctx)
		if err != nil {
			return err
		}
		response = freeSlotResponse{RequestID: scope.id, Slot: slot}
		return nil
	})
	return response, err
}

// --- hot-add-nic ---

// addNICRequest mirrors the "hvkit nic add" flags. Unset optional
// fields take the nic section of the configuration.
type addNICRequest struct {
	Instance string `cbor:"instance"`
	MAC      string `cbor:"mac"`
	ID       string `cbor:"id,omitempty"`
	Slot     *int   `cbor:"slot,omitempty"`
	Tap      string `cbor:"tap,omitempty"`
	Queues   int    `cbor:"queues,omitempty"`
	Vhost    *bool  `cbor:"vhost,omitempty"`
	VnetHdr  *bool  `cbor:"vnet_hdr,omitempty"`
}

type nicAddedResponse struct {
	RequestID string `cbor:"request_id"`
	ID        string `cbor:"id"`
	Slot      int    `cbor:"slot"`
	MAC       string `cbor:"mac"`
	Interface string `cbor:"interface"`
	Queues    int    `cbor:"queues"`
	Vhost     bool   `cbor:"vhost"`
	VnetHdr   bool   `cbor:"vnet_hdr"`
}

func (a *agent) handleHotAddNIC(ctx context.Context, raw []byte) (any, error) {
	var request addNICRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	mac, err := canonicalMAC(request.MAC)
	if err != nil {
		return nil, err
	}
	if err := checkSlot(request.Slot); err != nil {
		return nil, err
	}
	queues := request.Queues
	if queues == 0 {
		queues = a.config.NIC.Queues
	}
	if queues < 1 {
		return nil, &requestError{Field: "queues", Reason: fmt.Sprintf("must be positive, got %d", queues)}
	}
	vhost := a.config.NIC.Vhost
	if request.Vhost != nil {
		vhost = *request.Vhost
	}
	vnetHdr := a.config.NIC.VnetHdr
	if request.VnetHdr != nil {
		vnetHdr = *request.VnetHdr
	}

	var response nicAddedResponse
	err = a.withInstance(ctx, "hot-add-nic", request.Instance, func(scope *requestScope) error {
		slot := -1
		if request.Slot != nil {
			slot = *request.Slot
		}
		added, err := scope.operator.AddNIC(ctx, hotplug.NICRequest{
			MAC:     mac,
			ID:      request.ID,
			Slot:    slot,
			Tap:     request.Tap,
			Queues:  queues,
			Vhost:   vhost,
			VnetHdr: vnetHdr,
		}, a.host)
		if err != nil {
			return err
		}
		scope.logger.Info("NIC added", "id", added.ID, "slot", added.Slot, "interface", added.Interface, "queues", added.Queues)

		response = nicAddedResponse{
			RequestID: scope.id,
			ID:        added.ID,
			Slot:      added.Slot,
			MAC:       added.MAC,
			Interface: added.Interface,
			Queues:    added.Queues,
			Vhost:     added.Vhost,
			VnetHdr:   added.VnetHdr,
		}
		return nil
	})
	return response, err
}

// --- hot-add-disk ---

type addDiskRequest struct {
	Instance string `cbor:"instance"`
	URI      string `cbor:"uri"`
	ID       string `cbor:"id,omitempty"`
	Slot     *int   `cbor:"slot,omitempty"`
}

type diskAddedResponse struct {
	RequestID string `cbor:"request_id"`
	ID        string `cbor:"id"`
	Slot      int    `cbor:"slot"`
	URI       string `cbor:"uri"`
}

func (a *agent) handleHotAddDisk(ctx context.Context, raw []byte) (any, error) {
	var request addDiskRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if request.URI == "" {
		return nil, &requestError{Field: "uri", Reason: "is required"}
	}
	if err := checkSlot(request.Slot); err != nil {
		return nil, err
	}

	var response diskAddedResponse
	err := a.withInstance(ctx, "hot-add-disk", request.Instance, func(scope *requestScope) error {
		if err := scope.operator.CheckDiskHotAdd(); err != nil {
			return err
		}
		slot, err := resolveSlot(ctx, scope.operator, request.Slot)
		if err != nil {
			return err
		}
		id := request.ID
		if id == "" {
			id = fmt.Sprintf("hotdisk-%d", slot)
		}
		if err := scope.operator.HotAddDisk(ctx, hotplug.Disk{PCI: slot}, id, request.URI); err != nil {
			return err
		}
		scope.logger.Info("disk added", "id", id, "slot", slot, "uri", request.URI)
		response = diskAddedResponse{RequestID: scope.id, ID: id, Slot: slot, URI: request.URI}
		return nil
	})
	return response, err
}

// --- hot-del-nic, hot-del-disk ---

type deviceRequest struct {
	Instance string `cbor:"instance"`
	ID       string `cbor:"id"`
}

type removedResponse struct {
	RequestID string `cbor:"request_id"`
	ID        string `cbor:"id"`
}

func (a *agent) handleHotDelNIC(ctx context.Context, raw []byte) (any, error) {
	return a.remove(ctx, raw, "hot-del-nic", (*hotplug.Operator).HotDelNIC)
}

func (a *agent) handleHotDelDisk(ctx context.Context, raw []byte) (any, error) {
	return a.remove(ctx, raw, "hot-del-disk", (*hotplug.Operator).HotDelDisk)
}

func (a *agent) remove(ctx context.Context, raw []byte, action string, del func(*hotplug.Operator, context.Context, string) error) (any, error) {
	var request deviceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if request.ID == "" {
		return nil, &requestError{Field: "id", Reason: "is required"}
	}
	var response removedResponse
	err := a.withInstance(ctx, action, request.Instance, func(scope *requestScope) error {
		if err := del(scope.operator, ctx, request.ID); err != nil {
			return err
		}
		scope.logger.Info("device removed", "id", request.ID)
		response = removedResponse{RequestID: scope.id, ID: request.ID}
		return nil
	})
	return response, err
}

// --- helpers ---

func canonicalMAC(value string) (string, error) {
	mac, err := hotplug.CanonicalMAC(value)
	if err != nil {
		return "", &requestError{Field: "mac", Reason: err.Error()}
	}
	return mac, nil
}

func checkSlot(slot *int) error {
	if slot != nil && (*slot < 0 || *slot >= hotplug.PCISlots) {
		return &requestError{Field: "slot", Reason: fmt.Sprintf("must be in [0, %d), got %d", hotplug.PCISlots, *slot)}
	}
	return nil
}

// resolveSlot returns the requested slot, or the lowest free one when
// none was requested.
func resolveSlot(ctx context.Context, operator *hotplug.Operator, slot *int) (int, error) {
	if slot != nil {
		return *slot, nil
	}
	return operator.FreePCISlot(ctx)
}
