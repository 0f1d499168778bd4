package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Configuration errors, rejected before a session ever runs
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}

	// Data errors, fatal to session start
	ErrNoData           = &Error{Code: "NO_DATA", Message: "no candle data available"}
	ErrFetchFailed      = &Error{Code: "FETCH_FAILED", Message: "candle fetch failed"}
	ErrInsufficientData = &Error{Code: "INSUFFICIENT_DATA", Message: "insufficient candles for configured indicators"}

	// Decision errors, non-fatal, degrade to HOLD
	ErrDecisionFailed  = &Error{Code: "DECISION_FAILED", Message: "decision maker failed"}
	ErrDecisionTimeout = &Error{Code: "DECISION_TIMEOUT", Message: "decision maker timed out"}

	// Risk errors, rejected at the position model boundary
	ErrRiskRejected = &Error{Code: "RISK_REJECTED", Message: "order rejected by risk limits"}

	// Session errors
	ErrSessionNotFound = &Error{Code: "SESSION_NOT_FOUND", Message: "session not found"}
	ErrInvalidState    = &Error{Code: "INVALID_STATE", Message: "operation not valid in current session state"}
	ErrCapacity        = &Error{Code: "CAPACITY", Message: "maximum concurrent sessions reached"}

	// Persistence errors, retried or dropped, never fatal to the loop
	ErrStoreFailed = &Error{Code: "STORE_FAILED", Message: "store write failed"}
)
