// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package qmp

import "reflect"

// Wire keys used by the protocol.
const (
	greetingKey  = "QMP"
	eventKey     = "event"
	errorKey     = "error"
	returnKey    = "return"
	executeKey   = "execute"
	argumentsKey = "arguments"

	errorClassKey = "class"
	errorDescKey  = "desc"
)

// Message is a single QMP protocol message: a JSON object decoded into a
// map. A message is a greeting, a command, a success reply, an error
// reply, or an asynchronous event depending on which keys it carries.
type Message map[string]any

// NewCommand builds a command message. Arguments are omitted from the
// message when empty, matching what the monitor expects for commands
// that take none.
func NewCommand(command string, arguments map[string]any) Message {
	message := Message{executeKey: command}
	if len(arguments) > 0 {
		message[argumentsKey] = arguments
	}
	return message
}

// Get returns the value of key, or nil when the message does not
// contain it.
func (m Message) Get(key string) any {
	return m[key]
}

// Equal reports whether two messages hold structurally equal data.
func (m Message) Equal(other Message) bool {
	return reflect.DeepEqual(map[string]any(m), map[string]any(other))
}

// IsGreeting reports whether the message is the server greeting sent
// immediately after connect.
func (m Message) IsGreeting() bool {
	_, ok := m[greetingKey].(map[string]any)
	return ok
}

// IsEvent reports whether the message is an asynchronous notification.
func (m Message) IsEvent() bool {
	event, ok := m[eventKey]
	return ok && event != nil
}

// EventName returns the name of an event message, or "" for other
// message kinds.
func (m Message) EventName() string {
	name, _ := m[eventKey].(string)
	return name
}

// ErrorReply returns the class and description of an error reply. The
// ok result is false for messages that do not carry an error field.
func (m Message) ErrorReply() (class, description string, ok bool) {
	raw, present := m[errorKey]
	if !present || raw == nil {
		return "", "", false
	}
	body, _ := raw.(map[string]any)
	class, _ = body[errorClassKey].(string)
	description, _ = body[errorDescKey].(string)
	return class, description, true
}

// Return returns the payload of a success reply (nil when absent).
func (m Message) Return() any {
	return m[returnKey]
}
