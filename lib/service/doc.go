// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the CBOR request-response protocol spoken on
// the hot-plug agent's Unix socket.
//
// Each connection carries exactly one request and one response. The
// request is a CBOR map with an "action" field plus action-specific
// fields; the response is a [Response] envelope {ok, error, data}.
// [SocketServer] dispatches requests to registered [ActionFunc]
// handlers and drains in-flight handlers on shutdown. [ServiceClient]
// is the matching client.
//
// Access control is the socket file mode: only users in the socket's
// group can reach it.
package service
