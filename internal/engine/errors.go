package engine

import (
	"errors"
	"fmt"
)

// Error reports misuse of the coordinator: calling an operation that was
// never registered, registering one twice, or calling it with the wrong
// types.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
}

// ErrorCode categorizes coordinator errors.
type ErrorCode string

const (
	// ErrCodeUnknownOperation indicates no handler is registered for the op.
	ErrCodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeDuplicateOperation indicates the op was already registered.
	ErrCodeDuplicateOperation ErrorCode = "DUPLICATE_OPERATION"

	// ErrCodeTypeMismatch indicates the call's P or R differs from the
	// registered handler's.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeNoLocalEquivalent indicates a read was attempted offline for an
	// op without a local implementation.
	ErrCodeNoLocalEquivalent ErrorCode = "NO_LOCAL_EQUIVALENT"

	// ErrCodeInvalidOperation indicates a malformed op or handler.
	ErrCodeInvalidOperation ErrorCode = "INVALID_OPERATION"
)

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode reports whether err wraps an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsUnknownOperation reports whether err is ErrCodeUnknownOperation.
func IsUnknownOperation(err error) bool {
	return HasCode(err, ErrCodeUnknownOperation)
}
