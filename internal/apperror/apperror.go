// Package apperror defines the error taxonomy of the authentication flow and
// its mapping onto HTTP status codes.
package apperror

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicateAccount
	KindOTPAlreadyRequested
	KindInvalidOrExpiredOTP
	KindAccountNotFound
	KindAdminAlreadyExists
	KindInvalidCredentials
	KindInvalidOrExpiredToken
	KindUnauthorized
	KindForbidden
	KindRateLimited
)

var kindNames = map[Kind]string{
	KindInternal:              "INTERNAL_ERROR",
	KindValidation:            "VALIDATION_ERROR",
	KindDuplicateAccount:      "DUPLICATE_ACCOUNT",
	KindOTPAlreadyRequested:   "OTP_ALREADY_REQUESTED",
	KindInvalidOrExpiredOTP:   "INVALID_OR_EXPIRED_OTP",
	KindAccountNotFound:       "ACCOUNT_NOT_FOUND",
	KindAdminAlreadyExists:    "ADMIN_ALREADY_EXISTS",
	KindInvalidCredentials:    "INVALID_CREDENTIALS",
	KindInvalidOrExpiredToken: "INVALID_OR_EXPIRED_TOKEN",
	KindUnauthorized:          "UNAUTHORIZED",
	KindForbidden:             "FORBIDDEN",
	KindRateLimited:           "RATE_LIMITED",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// HTTPStatus is the response status used for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInvalidOrExpiredOTP, KindInvalidOrExpiredToken:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindAccountNotFound:
		return http.StatusNotFound
	case KindDuplicateAccount, KindOTPAlreadyRequested, KindAdminAlreadyExists:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to clients; Err is
// the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel-style checks such
// as errors.Is(err, apperror.New(apperror.KindForbidden, "")) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "Server error, try again!", err)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the client-facing message for err. Unclassified
// errors get a generic message so internal details never leak.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal && appErr.Message != "" {
		return appErr.Message
	}
	return "Server error, try again!"
}
