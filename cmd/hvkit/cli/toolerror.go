// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies command errors so that scripts driving the
// CLI can decide between fixing input, retrying, or reporting a bug
// without parsing error text. Each category maps to a distinct exit
// code via [ExitCodeFor].
type ErrorCategory string

const (
	// CategoryValidation indicates the caller provided invalid input:
	// missing arguments, unparseable values, a malformed MAC address.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound indicates a referenced resource does not exist:
	// no monitor socket for the instance, no free PCI slot, no device
	// with the given ID.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryUnsupported indicates the hypervisor or host lacks a
	// capability the operation needs (a QMP command, descriptor
	// passing, TUN/TAP).
	CategoryUnsupported ErrorCategory = "unsupported"

	// CategoryRejected indicates the hypervisor received the request
	// and refused it with an error reply.
	CategoryRejected ErrorCategory = "rejected"

	// CategoryTransient indicates a temporary failure: connection
	// refused, timeout, broken channel. Retrying may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal indicates an unexpected error: bugs, I/O
	// failures, protocol violations.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized error returned by CLI commands. It wraps
// an inner error, preserving the full chain for errors.Is and
// errors.As, and optionally carries a hint printed after the message.
// Use the category-specific constructors rather than constructing
// ToolError directly.
type ToolError struct {
	// Category classifies the error for programmatic handling.
	Category ErrorCategory

	// Err is the underlying error with the human-readable message.
	Err error

	// Hint is an optional next step for the user, separated from the
	// message by a blank line.
	Hint string
}

func (e *ToolError) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n\n" + e.Hint
}

func (e *ToolError) Unwrap() error { return e.Err }

// WithHint sets the hint and returns the receiver for chaining.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.Hint = hint
	return e
}

// Validation creates a validation error: the caller provided bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error: a referenced resource does not exist.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Unsupported creates an error for a missing hypervisor or host capability.
func Unsupported(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryUnsupported, Err: fmt.Errorf(format, args...)}
}

// Rejected creates an error for a request the hypervisor refused.
func Rejected(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryRejected, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient error: a temporary failure that may succeed on retry.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error: an unexpected failure, bug, or I/O error.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// ExitCodeFor returns the process exit code for err. Nil is 0, an
// [ExitError] carries its own code, uncategorized errors are 1.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		return 1
	}
	switch toolErr.Category {
	case CategoryValidation:
		return 2
	case CategoryNotFound:
		return 3
	case CategoryUnsupported:
		return 4
	case CategoryRejected:
		return 5
	case CategoryTransient:
		return 75
	default:
		return 1
	}
}
