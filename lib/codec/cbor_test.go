// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"reflect"
	"testing"
)

// hotAddRequest mirrors the shape of an agent request.
type hotAddRequest struct {
	Action   string `json:"action"`
	Instance string `json:"instance"`
	Device   string `json:"device,omitempty"`
	Slot     int    `json:"slot"`
}

func TestMarshalUnmarshal(t *testing.T) {
	original := hotAddRequest{Action: "hot-add-disk", Instance: "web-01", Device: "hotdisk-2", Slot: 7}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded hotAddRequest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(map[string]any{"slot": 3, "action": "free-pci-slot", "instance": "a"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(map[string]any{"instance": "a", "action": "free-pci-slot", "slot": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("map key order changed the encoding: %x != %x", first, second)
	}
}

func TestStreamRoundtrip(t *testing.T) {
	requests := []hotAddRequest{
		{Action: "info", Instance: "a"},
		{Action: "hot-del-nic", Instance: "b", Device: "hotnic-1"},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, request := range requests {
		if err := encoder.Encode(request); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range requests {
		var got hotAddRequest
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if got != want {
			t.Errorf("request %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestOmitemptyRespected(t *testing.T) {
	with, err := Marshal(hotAddRequest{Action: "a", Device: "d"})
	if err != nil {
		t.Fatal(err)
	}
	without, err := Marshal(hotAddRequest{Action: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(without) >= len(with) {
		t.Errorf("empty device field was encoded: %d bytes vs %d", len(without), len(with))
	}
}

func TestAnyDecodesToStringMaps(t *testing.T) {
	data, err := Marshal(map[string]any{
		"return": []any{map[string]any{"bus": 0, "devices": []any{}}},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	buses := top["return"].([]any)
	if _, ok := buses[0].(map[string]any); !ok {
		t.Errorf("nested map decoded as %v", reflect.TypeOf(buses[0]))
	}
}

func TestUnmarshalInvalid(t *testing.T) {
	var decoded hotAddRequest
	if err := Unmarshal([]byte{0xff, 0x00}, &decoded); err == nil {
		t.Error("expected error for invalid CBOR")
	}
}
