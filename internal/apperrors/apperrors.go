package apperrors

import (
	"errors"
	"net/http"
	"strings"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"

	// Authentication errors (401xx)
	ErrAuthRequired ErrorCode = "40101"

	// Resource errors (404xx)
	ErrReviewNotFound ErrorCode = "40401"

	// Rate limit errors (429xx)
	ErrRateLimited ErrorCode = "42901"
	ErrDuplicate   ErrorCode = "42902"

	// Server errors (500xx)
	ErrInternalServer      ErrorCode = "50001"
	ErrServiceNotAvailable ErrorCode = "50301"
)

// APIError is an error that knows how it should be rendered to a client.
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"error"`
	Details    []string  `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Common errors
var (
	ErrUnauthorized = &APIError{
		Code:       ErrAuthRequired,
		Message:    "Authentication required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrDuplicateReview = &APIError{
		Code:       ErrDuplicate,
		Message:    "You have already submitted a review for this company recently.",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternal = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrLinkedInDisabled = &APIError{
		Code:       ErrServiceNotAvailable,
		Message:    "LinkedIn authentication not configured",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// NewValidationError creates a 400 carrying every violated rule.
func NewValidationError(details []string) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    strings.Join(details, ", "),
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequest creates an invalid request error
func NewInvalidRequest(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound covers both absent ids and unmet state preconditions.
func NewNotFound(message string) *APIError {
	return &APIError{
		Code:       ErrReviewNotFound,
		Message:    message,
		HTTPStatus: http.StatusNotFound,
	}
}

// NewRateLimited creates a 429 with a fixed user-facing message.
func NewRateLimited(message string) *APIError {
	return &APIError{
		Code:       ErrRateLimited,
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// As extracts an *APIError from err. Anything else is reported as ErrInternal
// with ok set to false so callers know to log the cause.
func As(err error) (apiErr *APIError, ok bool) {
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return ErrInternal, false
}

// StatusOf returns the HTTP status err maps to.
func StatusOf(err error) int {
	apiErr, _ := As(err)
	return apiErr.HTTPStatus
}
