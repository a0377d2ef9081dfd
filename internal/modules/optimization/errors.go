package optimization

import (
	"errors"
	"fmt"
)

// Machine-readable error codes. Every error crossing the module boundary
// carries one of these.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidAlgorithm   = "INVALID_ALGORITHM"
	CodeAlgorithmMismatch  = "ALGORITHM_MISMATCH"
	CodeInvalidRange       = "INVALID_RANGE"
	CodeNotFound           = "NOT_FOUND"
	CodeScenarioNotFound   = "SCENARIO_NOT_FOUND"
	CodePlanNotFound       = "PLAN_NOT_FOUND"
	CodeJobNotFound        = "JOB_NOT_FOUND"
	CodeNoStock            = "NO_STOCK"
	CodeInvalidTransition  = "INVALID_STATUS_TRANSITION"
	CodeInvalidStatus      = "INVALID_STATUS"
	CodeOptimizationFailed = "OPTIMIZATION_FAILED"
	CodeCancelled          = "CANCELLED"
	CodeTimeout            = "TIMEOUT"
	CodeAlgorithmNotFound  = "ALGORITHM_NOT_FOUND"
	CodeUpstream           = "UPSTREAM_UNAVAILABLE"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error pairs a machine code with a human message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errf creates an Error with a formatted message.
func Errf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the module error from err, wrapping foreign errors as
// INTERNAL_ERROR so callers always see a coded error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
