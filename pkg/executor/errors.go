// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package executor

import "fmt"

// Error codes surfaced to callers.
const (
	CodeOperationNotFound        = "OPERATION_NOT_FOUND"
	CodeValidationError          = "VALIDATION_ERROR"
	CodeSchemaUnavailable        = "SCHEMA_UNAVAILABLE"
	CodeWritesDisabled           = "WRITES_DISABLED"
	CodeWriteConfirmationMissing = "WRITE_CONFIRMATION_REQUIRED"
	CodeAuthRequired             = "AUTH_REQUIRED"
	CodeUpstreamError            = "HEROKU_API_ERROR"
	CodeRequestTimeout           = "REQUEST_TIMEOUT"
	CodeRequestFailed            = "REQUEST_FAILED"
)

// Error is the machine-readable failure envelope for execute calls.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func operationNotFound(id string) *Error {
	return &Error{Code: CodeOperationNotFound, Message: fmt.Sprintf("unknown operation %q", id), Status: 404}
}

func validationError(format string, args ...any) *Error {
	return &Error{Code: CodeValidationError, Message: fmt.Sprintf(format, args...), Status: 400}
}
