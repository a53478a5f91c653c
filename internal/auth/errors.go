package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can branch on it without string matching.
type Kind string

const (
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindAccountLocked      Kind = "ACCOUNT_LOCKED"
	KindAuthProvider       Kind = "AUTH_PROVIDER_ERROR"
	KindConflict           Kind = "CONFLICT"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindStore              Kind = "STORE_ERROR"
	KindNotFound           Kind = "NOT_FOUND"
	KindForbidden          Kind = "FORBIDDEN"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindSessionExpired     Kind = "SESSION_EXPIRED"
)

// Error is the typed failure returned across service boundaries.
// Reason is safe to show to the user; Err carries the internal cause and is never rendered.
type Error struct {
	Kind              Kind
	Reason            string
	AttemptsRemaining int
	Err               error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works
// regardless of reason or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrInvalidCredentials is returned for a wrong password or an unknown username.
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	// ErrAccountLocked is returned when the account is locked, whatever the credentials.
	ErrAccountLocked = &Error{Kind: KindAccountLocked}
	// ErrAuthProvider is returned when the directory authority could not be reached.
	ErrAuthProvider = &Error{Kind: KindAuthProvider}
	// ErrConflict is returned when an update carried a stale version.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrValidation is returned for policy or input-shape violations.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrStore is returned for unexpected persistence failures.
	ErrStore = &Error{Kind: KindStore}
	// ErrNotFound is returned when a record does not exist or is not visible to the caller.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrForbidden is returned when the session lacks the required access level.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrUnauthenticated is returned when no valid session accompanies the request.
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	// ErrSessionExpired is returned when a session is past its renewal window.
	ErrSessionExpired = &Error{Kind: KindSessionExpired}
)

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Validation builds a VALIDATION_ERROR with a user-visible reason.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// Store wraps a persistence failure. The cause stays server-side.
// Typed errors pass through unchanged and nil stays nil.
func Store(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindStore, Err: err}
}

// KindOf returns the kind of err, or STORE_ERROR for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// HTTPStatus maps a kind to the status code used by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidCredentials, KindUnauthenticated, KindSessionExpired:
		return http.StatusUnauthorized
	case KindAccountLocked, KindForbidden:
		return http.StatusForbidden
	case KindAuthProvider:
		return http.StatusBadGateway
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the generic text shown to users for a kind.
func PublicMessage(kind Kind) string {
	switch kind {
	case KindInvalidCredentials:
		return "Invalid username or password"
	case KindAccountLocked:
		return "Account is locked, contact an administrator"
	case KindAuthProvider:
		return "Connection error, please try again later"
	case KindConflict:
		return "Data was changed by someone else, reload and retry"
	case KindValidation:
		return "Invalid request"
	case KindNotFound:
		return "Not found"
	case KindForbidden:
		return "Forbidden"
	case KindUnauthenticated:
		return "Authentication required"
	case KindSessionExpired:
		return "Session expired, please sign in again"
	default:
		return "The operation could not be completed"
	}
}
