// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package qmp is a client for the QEMU Machine Protocol: JSON messages
// terminated by CRLF over the Unix stream socket of one running
// instance's monitor.
//
// A session has three phases:
//
//   - Connect: the socket path is validated and dialed, and the first
//     message must be the server greeting carrying the emulator
//     version.
//   - Negotiation: qmp_capabilities switches the monitor into command
//     mode and query-commands fetches the catalogue of supported
//     commands.
//   - Ready: every Execute is checked against the catalogue before
//     anything is written, so callers can fall back to another path
//     without a wasted round trip.
//
// The protocol has no request identifiers. Replies are correlated with
// commands purely by order, with asynchronous events interleaved on the
// same stream. [Connection] therefore allows one command in flight at a
// time and discards events it sees while waiting for a reply. It has no
// internal locking and no background reader: a Connection belongs to
// one caller for the duration of one operation or short batch and is
// then closed.
//
// Descriptors (tap devices, vhost handles, disk images) reach the
// monitor as SCM_RIGHTS ancillary data on the same socket, followed by a
// getfd or add-fd command that names or collects them. The transfer is
// behind [DescriptorSender] so that platforms without ancillary data
// report the capability as missing instead of failing mid-operation.
//
// Errors are typed by how a caller should react: [ConfigurationError]
// (fix the path), [CommunicationError] (reconnect if desired; the
// Connection is unusable), [SerializationError] (protocol mismatch,
// never retried), [CommandError] (the monitor refused), and
// [UnsupportedCommandError] (not in the catalogue).
package qmp
