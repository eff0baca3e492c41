package broker

import (
	"fmt"
	"net/http"
)

// Error codes of the broker's taxonomy. Every failure leaving the service
// boundary carries exactly one of these.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeAuthenticationError  = "AUTHENTICATION_ERROR"
	CodeExternalServiceError = "EXTERNAL_SERVICE_ERROR"
	CodeNotFound             = "NOT_FOUND"
)

// Error is a classified broker failure, serialized at the HTTP boundary as
// {"error":{"code","message"}}. Internal detail never rides along.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError reports missing or malformed input.
func NewValidationError(message string) *Error {
	return &Error{Code: CodeValidationError, Message: message, Status: http.StatusBadRequest}
}

// NewAuthenticationError reports a bad credential, invalid session or a
// state/nonce mismatch.
func NewAuthenticationError(message string) *Error {
	return &Error{Code: CodeAuthenticationError, Message: message, Status: http.StatusUnauthorized}
}

// NewExternalServiceError reports an identity provider failure.
func NewExternalServiceError(message string) *Error {
	return &Error{Code: CodeExternalServiceError, Message: message, Status: http.StatusBadGateway}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}
