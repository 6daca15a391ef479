// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides hvkit's standard CBOR encoding configuration.
//
// hvkit uses two serialization formats with a clear boundary:
//
//   - JSON on the QMP monitor socket (fixed by the emulator) and in CLI
//     output.
//   - CBOR on the hot-plug agent socket, between the agent and its
//     clients.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Agent protocol types carry `json` tags: fxamacker/cbor reads them
// when `cbor` tags are absent, so the same types serve the socket and
// the CLI's --json output. Use `cbor` tags only on types that are never
// rendered as JSON, and never both on one field.
package codec
