package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"zackhub/api/internal/ledger"
	"zackhub/api/internal/search"
	"zackhub/api/internal/store"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeProfanity        = "PROFANITY"
	CodeNotFound         = "NOT_FOUND"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeConflict         = "CONFLICT"
	CodeForbidden        = "FORBIDDEN"
	CodeServerError      = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any

	cause error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, map[string]any{"field": field})
}

func profanityError(field string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeProfanity, "Content contains blocked words", map[string]any{"field": field})
}

// ErrorCode returns the domain code carried by err, or SERVER_ERROR.
func ErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeServerError
}

// classify converts storage, ledger and transport failures into domain
// errors. Unknown errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	var (
		validation *store.ValidationError
		netErr     net.Error
		out        *DomainError
	)
	switch {
	case errors.As(err, &validation):
		out = validationError(validation.Field, validation.Message)
	case errors.Is(err, ledger.ErrInvalidKind):
		out = validationError("kind", "kind must be like or dislike")
	case errors.Is(err, ledger.ErrMissingReactor):
		out = validationError("reactorId", "reactorId is required")
	case errors.Is(err, search.ErrSubjectRequired):
		out = validationError("subjectId", err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrUnknownComment):
		out = domainError(http.StatusNotFound, CodeNotFound, "Comment not found", nil)
	case errors.Is(err, store.ErrConflict):
		out = domainError(http.StatusConflict, CodeConflict, "Already exists", nil)
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		out = domainError(http.StatusServiceUnavailable, CodeStoreUnavailable, "Storage temporarily unavailable, try again", nil)
	default:
		return err
	}
	out.cause = err
	return out
}
