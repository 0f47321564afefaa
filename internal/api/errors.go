package api

import (
	"errors"
	"net/http"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

// APIError represents a structured API error.
type APIError struct {
	HTTPStatus int                 `json:"-"`
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Fields     []models.FieldError `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// API error codes.
const (
	ErrCodeInvalidJSON      = "INVALID_JSON"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeVersionConflict  = "VERSION_CONFLICT"
	ErrCodeInvalidStatus    = "INVALID_STATUS"
	ErrCodeStoreError       = "STORE_ERROR"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidParameter = "INVALID_PARAMETER"
)

// Predefined API errors.
var (
	ErrInvalidJSON = &APIError{
		HTTPStatus: http.StatusBadRequest,
		Code:       ErrCodeInvalidJSON,
		Message:    "Invalid JSON body",
	}
	ErrScheduleNotFound = &APIError{
		HTTPStatus: http.StatusNotFound,
		Code:       ErrCodeNotFound,
		Message:    "Schedule not found",
	}
	ErrScheduleExists = &APIError{
		HTTPStatus: http.StatusConflict,
		Code:       ErrCodeAlreadyExists,
		Message:    "Schedule already exists",
	}
	ErrVersionConflict = &APIError{
		HTTPStatus: http.StatusConflict,
		Code:       ErrCodeVersionConflict,
		Message:    "Schedule was modified concurrently, reload and retry",
	}
	ErrUnauthorized = &APIError{
		HTTPStatus: http.StatusUnauthorized,
		Code:       ErrCodeUnauthorized,
		Message:    "Valid API key required",
	}
	ErrRateLimited = &APIError{
		HTTPStatus: http.StatusTooManyRequests,
		Code:       ErrCodeRateLimited,
		Message:    "Too many requests",
	}
)

// NewValidationError creates a validation error listing the rejected fields.
func NewValidationError(message string, fields []models.FieldError) *APIError {
	return &APIError{
		HTTPStatus: http.StatusBadRequest,
		Code:       ErrCodeValidation,
		Message:    message,
		Fields:     fields,
	}
}

// NewInvalidParameterError reports a malformed query or path parameter.
func NewInvalidParameterError(message string) *APIError {
	return &APIError{
		HTTPStatus: http.StatusBadRequest,
		Code:       ErrCodeInvalidParameter,
		Message:    message,
	}
}

// MapDomainError maps domain errors to API errors. Unknown errors map to a
// 500 with code INTERNAL_ERROR.
func MapDomainError(err error) *APIError {
	if err == nil {
		return nil
	}

	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return NewValidationError("Schedule definition is invalid", verr.Fields)
	case errors.Is(err, models.ErrValidation):
		return NewValidationError(err.Error(), nil)
	case errors.Is(err, models.ErrScheduleNotFound):
		return ErrScheduleNotFound
	case errors.Is(err, models.ErrScheduleExists):
		return ErrScheduleExists
	case errors.Is(err, models.ErrVersionConflict):
		return ErrVersionConflict
	case errors.Is(err, models.ErrInvalidStatus):
		return &APIError{
			HTTPStatus: http.StatusConflict,
			Code:       ErrCodeInvalidStatus,
			Message:    err.Error(),
		}
	default:
		return &APIError{
			HTTPStatus: http.StatusInternalServerError,
			Code:       ErrCodeInternalError,
			Message:    "An unexpected error occurred",
		}
	}
}

// WriteAPIError writes an API error response.
func (h *Handler) WriteAPIError(w http.ResponseWriter, err *APIError) {
	h.writeJSON(w, err.HTTPStatus, Response{
		Success: false,
		Error:   err,
	})
}

// HandleError maps err to an API error, logs unexpected failures and writes
// the response. It reports whether err was non-nil.
func (h *Handler) HandleError(w http.ResponseWriter, err error, operation string) bool {
	if err == nil {
		return false
	}

	apiErr := MapDomainError(err)
	if apiErr.Code == ErrCodeInternalError {
		h.logger.Error().Err(err).Str("operation", operation).Msg("Schedule operation failed")
		apiErr = &APIError{
			HTTPStatus: http.StatusInternalServerError,
			Code:       ErrCodeStoreError,
			Message:    "Failed to " + operation,
		}
	}

	h.WriteAPIError(w, apiErr)
	return true
}
