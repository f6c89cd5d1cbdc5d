// Package apperr defines the typed failures returned by the voucher lifecycle.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the API envelope.
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindNotFound        Kind = "NotFoundError"
	KindConflict        Kind = "ConflictError"
	KindAlreadyClaimed  Kind = "AlreadyClaimedError"
	KindNotClaimed      Kind = "NotClaimedError"
	KindLimitExceeded   Kind = "LimitExceededError"
	KindExpired         Kind = "ExpiredError"
	KindMinimumPurchase Kind = "MinimumPurchaseError"
	KindIntegrity       Kind = "IntegrityError"
	KindUnauthorized    Kind = "UnauthorizedError"
	KindForbidden       Kind = "ForbiddenError"
	KindInternal        Kind = "InternalError"
)

// KindTokenInvalid is the name used for QR digest mismatches; it is the same kind as KindIntegrity.
const KindTokenInvalid = KindIntegrity

// Error is a classified failure with a user-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.Conflict("")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error   { return newf(KindConflict, format, args...) }
func AlreadyClaimed(format string, args ...any) *Error {
	return newf(KindAlreadyClaimed, format, args...)
}
func NotClaimed(format string, args ...any) *Error { return newf(KindNotClaimed, format, args...) }
func LimitExceeded(format string, args ...any) *Error {
	return newf(KindLimitExceeded, format, args...)
}
func Expired(format string, args ...any) *Error { return newf(KindExpired, format, args...) }
func MinimumPurchase(format string, args ...any) *Error {
	return newf(KindMinimumPurchase, format, args...)
}
func Integrity(format string, args ...any) *Error    { return newf(KindIntegrity, format, args...) }
func Unauthorized(format string, args ...any) *Error { return newf(KindUnauthorized, format, args...) }
func Forbidden(format string, args ...any) *Error    { return newf(KindForbidden, format, args...) }

// Internal wraps an unexpected failure. The message stays generic; the cause is kept for logs.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindAlreadyClaimed, KindNotClaimed, KindLimitExceeded,
		KindExpired, KindMinimumPurchase, KindIntegrity:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
