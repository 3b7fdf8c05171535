// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal           = "INTERNAL_ERROR"
	CodeDatabase           = "DATABASE_ERROR"
	CodeInvariantViolation = "INVARIANT_VIOLATION"

	// Settlement runs after the financial transaction; its failure is retried on its own.
	CodeOrderMaterializationFailed = "ORDER_MATERIALIZATION_FAILED"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Lot accumulation
	CodeLotNotFound            = "LOT_NOT_FOUND"
	CodeLotAlreadyClosed       = "LOT_ALREADY_CLOSED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Reservation layer (user-correctable)
	CodeMissingAddress  = "MISSING_ADDRESS"
	CodeAlreadyReserved = "ALREADY_RESERVED"
	CodeNotCancellable  = "NOT_CANCELLABLE"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict    = "CONFLICT"
	CodeIdempotency = "IDEMPOTENCY_CONFLICT"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (lot id, quantities, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewLotNotFound is returned when a referenced lot no longer exists.
// Callers must re-resolve the lot before retrying.
func NewLotNotFound(lotID any) *AppError {
	return &AppError{
		Code:       CodeLotNotFound,
		Message:    "Lot not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"lot_id": lotID},
	}
}

// NewLotAlreadyClosed is returned when a contribution arrives after closure.
// It signals a race in lot resolution or an upstream double charge and must
// reach the refund collaborator, so it is never dropped.
func NewLotAlreadyClosed(lotID any, paymentID string) *AppError {
	return &AppError{
		Code:       CodeLotAlreadyClosed,
		Message:    "Payment received but the lot had just closed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"lot_id": lotID, "payment_id": paymentID},
	}
}

// NewInvariantViolation reports persisted data that breaks a domain invariant.
func NewInvariantViolation(message string) *AppError {
	return &AppError{
		Code:       CodeInvariantViolation,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified concurrently. Please retry.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewMissingAddress is returned when a retailer without a registered address reserves.
func NewMissingAddress(retailerID string) *AppError {
	return &AppError{
		Code:       CodeMissingAddress,
		Message:    "A registered address is required before reserving",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"retailer_id": retailerID},
	}
}

// NewAlreadyReserved is returned when the retailer already holds a pending reservation.
func NewAlreadyReserved(retailerID, productID string) *AppError {
	return &AppError{
		Code:       CodeAlreadyReserved,
		Message:    "Retailer already holds a pending reservation for this product",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"retailer_id": retailerID, "product_id": productID},
	}
}

// NewNotCancellable is returned when a reservation is no longer pending.
func NewNotCancellable(reservationID any, status string) *AppError {
	return &AppError{
		Code:       CodeNotCancellable,
		Message:    "Reservation can no longer be cancelled",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"reservation_id": reservationID, "status": status},
	}
}

// NewOrderMaterializationFailed wraps a settlement failure after lot closure.
func NewOrderMaterializationFailed(lotID any, err error) *AppError {
	return &AppError{
		Code:       CodeOrderMaterializationFailed,
		Message:    "Order materialization failed; the lot stays closed and will be retried",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"lot_id": lotID},
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewIdempotencyConflict creates error when operation is already in progress
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Operation already in progress or completed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused for
// a different request (different user/operation/body hash).
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key mismatch",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries an AppError with the given code.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return IsCode(err, CodeConcurrentModification)
}

// IsLotAlreadyClosed checks if error is CodeLotAlreadyClosed
func IsLotAlreadyClosed(err error) bool {
	return IsCode(err, CodeLotAlreadyClosed)
}
