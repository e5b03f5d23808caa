package types

import "errors"

// Domain errors reported synchronously to callers of pool mutations.
// None of them are retried automatically.
var (
	// ErrAlreadyActive: a create hit an account whose process is
	// still RUNNING or WAITING.
	ErrAlreadyActive = errors.New("process is already running")

	// ErrDeviceBusy: the target device is bound to another active process.
	ErrDeviceBusy = errors.New("device is already running another process")

	// ErrNotFound: no pool entry for the account.
	ErrNotFound = errors.New("process not found")

	// ErrNotScheduled: cancel-schedule on an account with no pending timer.
	ErrNotScheduled = errors.New("process is not scheduled")

	// ErrProcessActive: remove on a RUNNING/WAITING process.
	ErrProcessActive = errors.New("process is still active")

	// ErrDeviceNotFound: bind/unbind on an unknown device id.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrLaunchFailed: the external bot executable could not start.
	// The process is not inserted into the pool.
	ErrLaunchFailed = errors.New("bot launch failed")

	// ErrExternalToolUnavailable: device enumeration or battery read
	// failed. Degrades to the unknown sentinel, never propagated out
	// of a query.
	ErrExternalToolUnavailable = errors.New("external tool unavailable")
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
