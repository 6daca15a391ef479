// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// messageTerminator ends every framed message on the wire.
var messageTerminator = []byte("\r\n")

// ParseMessage extracts the first complete message from buf. When buf
// holds a terminator, the JSON object before it is decoded and returned
// together with the bytes following the terminator, which belong to the
// next message. When no terminator is present, ParseMessage returns a
// nil message and buf unchanged.
//
// A framed payload that is not a JSON object yields a
// *SerializationError.
func ParseMessage(buf []byte) (Message, []byte, error) {
	position := bytes.Index(buf, messageTerminator)
	if position < 0 {
		return nil, buf, nil
	}

	payload := buf[:position]
	remainder := buf[position+len(messageTerminator):]

	var message Message
	if err := json.Unmarshal(payload, &message); err != nil {
		return nil, remainder, &SerializationError{Err: fmt.Errorf("decoding %q: %w", truncate(payload, 128), err)}
	}
	if message == nil {
		return nil, remainder, &SerializationError{Err: errors.New("message is not a JSON object")}
	}
	return message, remainder, nil
}

// SerializeMessage encodes message as compact single-line JSON. The
// result never contains the frame terminator: encoding/json escapes
// control characters inside strings and emits no whitespace between
// tokens.
func SerializeMessage(message Message) ([]byte, error) {
	data, err := json.Marshal(map[string]any(message))
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return data, nil
}

// frame returns the serialized message followed by the terminator.
func frame(message Message) ([]byte, error) {
	data, err := SerializeMessage(message)
	if err != nil {
		return nil, err
	}
	return append(data, messageTerminator...), nil
}

func truncate(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}
