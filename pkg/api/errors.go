package api

import (
	"fmt"
)

// ErrorCode enumerates the failure classes the master reports to clients.
// The numeric values are fixed for wire compatibility.
type ErrorCode int32

const (
	ErrorUnknown         ErrorCode = 0
	ErrorVersionConflict ErrorCode = 1
	ErrorNotFound        ErrorCode = 2
	ErrorInputError      ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorVersionConflict:
		return "VERSION_CONFLICT"
	case ErrorNotFound:
		return "NOT_FOUND"
	case ErrorInputError:
		return "INPUT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// MasterError is the typed error returned by every master operation. Clients
// match on Code with errors.As.
type MasterError struct {
	Code    ErrorCode
	Message string
}

func (e *MasterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Conflictf builds a VERSION_CONFLICT error.
func Conflictf(format string, args ...any) *MasterError {
	return &MasterError{Code: ErrorVersionConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NOT_FOUND error.
func NotFoundf(format string, args ...any) *MasterError {
	return &MasterError{Code: ErrorNotFound, Message: fmt.Sprintf(format, args...)}
}

// InputErrorf builds an INPUT_ERROR error.
func InputErrorf(format string, args ...any) *MasterError {
	return &MasterError{Code: ErrorInputError, Message: fmt.Sprintf(format, args...)}
}

// Unknownf builds an UNKNOWN error.
func Unknownf(format string, args ...any) *MasterError {
	return &MasterError{Code: ErrorUnknown, Message: fmt.Sprintf(format, args...)}
}
