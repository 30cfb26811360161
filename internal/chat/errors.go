package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/iwasamnot/campuschat/internal/store"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("unavailable")
	ErrInternal    = errors.New("internal")
)

// ServiceError wraps a sentinel error with a specific code and message for
// the handler to use. RetryAfter is set for rate-limit rejections so the
// caller can show the remaining wait.
type ServiceError struct {
	Err        error
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

// NewError creates a ServiceError wrapping the given sentinel.
func NewError(sentinel error, code, message string) *ServiceError {
	return &ServiceError{Err: sentinel, Code: code, Message: message}
}

func NotFound(code, message string) *ServiceError {
	return NewError(ErrNotFound, code, message)
}

func Forbidden(code, message string) *ServiceError {
	return NewError(ErrForbidden, code, message)
}

func BadRequest(code, message string) *ServiceError {
	return NewError(ErrBadRequest, code, message)
}

func Internal(code, message string) *ServiceError {
	return NewError(ErrInternal, code, message)
}

func Unavailable(code, message string) *ServiceError {
	return NewError(ErrUnavailable, code, message)
}

// RateLimited builds the policy rejection for a throttled send. The message
// tells the user this was a rejection, not a failure.
func RateLimited(remaining time.Duration) *ServiceError {
	return &ServiceError{
		Err:        ErrRateLimited,
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("you are sending too fast, wait %dms", remaining.Milliseconds()),
		RetryAfter: remaining,
	}
}

// mapStoreErr translates a store error into the user-facing taxonomy. Every
// category gets a distinct code so "retry" and "rejected" are never
// conflated.
func mapStoreErr(err error) *ServiceError {
	switch store.Categorize(err) {
	case store.CategoryNotFound:
		return NotFound("NOT_FOUND", "message not found")
	case store.CategoryQuota:
		return Unavailable("QUOTA_EXCEEDED", store.CategoryQuota.Banner())
	case store.CategoryMissingIndex:
		return Unavailable("MISSING_INDEX", store.CategoryMissingIndex.Banner())
	case store.CategoryPermission:
		return Forbidden("STORE_PERMISSION", store.CategoryPermission.Banner())
	case store.CategoryUnavailable:
		return Unavailable("UNAVAILABLE", store.CategoryUnavailable.Banner())
	default:
		return Internal("INTERNAL", "internal server error")
	}
}
