package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the flow controller, the renderer and the
// session engine. Callers match them with errors.Is.
var (
	// ErrInvalidSubmission marks an empty or malformed required field. It is
	// recovered locally and never becomes a turn.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrDuplicatePeer marks an insert whose id is already in the peer set.
	ErrDuplicatePeer = errors.New("duplicate peer id")

	// ErrNoPeersIncluded marks a "done" signal while no peer is included.
	ErrNoPeersIncluded = errors.New("no peers included")

	// ErrUnexpectedInput marks an input the current surface does not offer.
	ErrUnexpectedInput = errors.New("unexpected input")

	// ErrNotFound marks a missing session or peer.
	ErrNotFound = errors.New("not found")

	// ErrSessionReset is delivered to inputs abandoned by a reset.
	ErrSessionReset = errors.New("session reset")

	// ErrSessionClosed is returned once a session has been shut down.
	ErrSessionClosed = errors.New("session closed")
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeUnprocessable indicates a well-formed request the flow refused.
	ErrorTypeUnprocessable ErrorType = "unprocessable"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates a permission/authorization failure.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates rate limiting was triggered.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeOverloaded indicates the service is overloaded.
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeUpstream indicates the completion service answered with
	// something the client could not use.
	ErrorTypeUpstream ErrorType = "upstream"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeInvalidAPIKey         ErrorCode = "invalid_api_key"
	ErrorCodeRateLimitExceeded     ErrorCode = "rate_limit_exceeded"
	ErrorCodeModelNotFound         ErrorCode = "model_not_found"
	ErrorCodeContextLengthExceeded ErrorCode = "context_length_exceeded"
	ErrorCodeMalformedPayload      ErrorCode = "malformed_payload"
	ErrorCodeStreamTruncated       ErrorCode = "stream_truncated"
	ErrorCodeEmptyResponse         ErrorCode = "empty_response"
	ErrorCodeNoPeersIncluded       ErrorCode = "no_peers_included"
	ErrorCodeDuplicatePeer         ErrorCode = "duplicate_peer"
	ErrorCodeSessionReset          ErrorCode = "session_reset"
)

// APIError is the canonical error shape used both for completion-service
// failures and for errors rendered by the HTTP API.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the parameter that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	// Provider names the completion backend the error came from, if any.
	Provider string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithStatus sets the suggested HTTP status code.
func (e *APIError) WithStatus(status int) *APIError {
	e.StatusCode = status
	return e
}

// ErrorTypeForStatus maps an upstream HTTP status to an error type.
func ErrorTypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return ErrorTypePermission
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable:
		return ErrorTypeOverloaded
	case status >= 400 && status < 500:
		return ErrorTypeInvalidRequest
	default:
		return ErrorTypeServer
	}
}

// ToAPIError converts any error into the canonical shape, mapping the
// sentinel errors above to their HTTP categories.
func ToAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, ErrInvalidSubmission), errors.Is(err, ErrUnexpectedInput):
		return NewAPIError(ErrorTypeUnprocessable, err.Error())
	case errors.Is(err, ErrNoPeersIncluded):
		return NewAPIError(ErrorTypeUnprocessable, err.Error()).WithCode(ErrorCodeNoPeersIncluded)
	case errors.Is(err, ErrDuplicatePeer):
		return NewAPIError(ErrorTypeUnprocessable, err.Error()).WithCode(ErrorCodeDuplicatePeer)
	case errors.Is(err, ErrNotFound):
		return NewAPIError(ErrorTypeNotFound, err.Error())
	case errors.Is(err, ErrSessionReset):
		return NewAPIError(ErrorTypeUnprocessable, err.Error()).WithCode(ErrorCodeSessionReset).WithStatus(http.StatusConflict)
	case errors.Is(err, ErrSessionClosed):
		return NewAPIError(ErrorTypeNotFound, err.Error()).WithStatus(http.StatusGone)
	default:
		return NewAPIError(ErrorTypeServer, err.Error())
	}
}
