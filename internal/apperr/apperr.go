// Package apperr defines the stable error taxonomy shared by the gateway
// and worker services, and maps it to HTTP status and retry behavior.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the stable error codes from the payout error taxonomy.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindUserNotActive       Kind = "USER_NOT_ACTIVE"
	KindUserNotFound        Kind = "USER_NOT_FOUND"
	KindTransactionNotFound Kind = "TRANSACTION_NOT_FOUND"
	KindConcurrentRequest   Kind = "CONCURRENT_REQUEST"
	KindRateLimitExceeded   Kind = "RATE_LIMIT_EXCEEDED"
	KindUserRateLimit       Kind = "USER_RATE_LIMIT_EXCEEDED"
	KindQueueError          Kind = "QUEUE_ERROR"
	KindCacheError          Kind = "CACHE_ERROR"
	KindDatabaseError       Kind = "DATABASE_ERROR"
	KindAlreadyProcessing   Kind = "ALREADY_PROCESSING"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// AppError is a business/infrastructure error tagged with a stable Kind.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New builds an AppError with no wrapped cause.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap builds an AppError carrying an underlying infrastructure error.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// As extracts an *AppError from err, if any is in its chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an AppError, else
// KindInternal.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

var httpStatus = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindInsufficientBalance: http.StatusBadRequest,
	KindUserNotActive:       http.StatusForbidden,
	KindUserNotFound:        http.StatusNotFound,
	KindTransactionNotFound: http.StatusNotFound,
	KindConcurrentRequest:   http.StatusConflict,
	KindRateLimitExceeded:   http.StatusTooManyRequests,
	KindUserRateLimit:       http.StatusTooManyRequests,
	KindQueueError:          http.StatusServiceUnavailable,
	KindCacheError:          http.StatusServiceUnavailable,
	KindDatabaseError:       http.StatusServiceUnavailable,
	KindAlreadyProcessing:   http.StatusConflict,
	KindInternal:            http.StatusInternalServerError,
}

// HTTPStatus maps a Kind to the HTTP status spec.md §7 assigns it.
func HTTPStatus(k Kind) int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

var retryable = map[Kind]bool{
	KindConcurrentRequest: true,
	KindRateLimitExceeded: true,
	KindUserRateLimit:     true,
	KindQueueError:        true,
	KindCacheError:        true,
	KindDatabaseError:     true,
}

// Retryable reports whether a caller should expect this Kind to succeed on
// retry (possibly after a delay), per the "Retryable?" column of spec.md §7.
func Retryable(k Kind) bool {
	return retryable[k]
}
