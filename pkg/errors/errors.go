package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
// Code is a stable reason identifier the caller can map to a localized message.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application. Authorization denials
// reuse the same wording whether the resource is missing or the caller lacks
// standing, so responses never reveal cross-tenant existence.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotAuthorized = &AppError{
		Code:       "NOT_AUTHORIZED",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotMember = &AppError{
		Code:       "NOT_MEMBER",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrStepUpRequired = &AppError{
		Code:       "STEP_UP_REQUIRED",
		Message:    "Fresh second-factor verification required",
		StatusCode: http.StatusForbidden,
	}

	ErrInvalidCode = &AppError{
		Code:       "INVALID_CODE",
		Message:    "Invalid verification code",
		StatusCode: http.StatusUnauthorized,
	}

	ErrChallengeExpired = &AppError{
		Code:       "CHALLENGE_EXPIRED",
		Message:    "Verification challenge expired, request a new one",
		StatusCode: http.StatusUnauthorized,
	}

	ErrRateLimited = &AppError{
		Code:       "RATE_LIMITED",
		Message:    "Too many verification attempts, request a new challenge",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrAwaitingApproval = &AppError{
		Code:       "AWAITING_APPROVAL",
		Message:    "A matching approval request is already pending",
		StatusCode: http.StatusConflict,
	}

	ErrAlreadyDecided = &AppError{
		Code:       "ALREADY_DECIDED",
		Message:    "Approval request has already been decided",
		StatusCode: http.StatusConflict,
	}

	ErrSelfDecision = &AppError{
		Code:       "SELF_DECISION",
		Message:    "Requester cannot decide their own approval request",
		StatusCode: http.StatusForbidden,
	}

	ErrImpersonationReadOnly = &AppError{
		Code:       "IMPERSONATION_READ_ONLY",
		Message:    "Write operations are rejected during impersonation",
		StatusCode: http.StatusForbidden,
	}

	ErrSessionActive = &AppError{
		Code:       "SESSION_ACTIVE",
		Message:    "An impersonation session is already active",
		StatusCode: http.StatusConflict,
	}

	ErrPersistenceUnavailable = &AppError{
		Code:       "PERSISTENCE_UNAVAILABLE",
		Message:    "Operation aborted: audit record could not be persisted",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
