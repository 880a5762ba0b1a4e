package authsession

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes used in API envelopes and audit events
const (
	ErrorCodeInvalidCredentials  = "invalid_credentials"
	ErrorCodeRateLimitExceeded   = "rate_limit_exceeded"
	ErrorCodeTokenExpired        = "token_expired"
	ErrorCodeTokenRevoked        = "token_revoked"
	ErrorCodeTokenInvalid        = "token_invalid"
	ErrorCodeRefreshFailed       = "refresh_failed"
	ErrorCodeNetworkError        = "network_error"
	ErrorCodeCorruptedLocalState = "corrupted_local_state"
	ErrorCodeAuthInProgress      = "auth_in_progress"
)

// Sentinel errors of the session lifecycle. Match them with errors.Is.
var (
	// ErrInvalidCredentials is surfaced directly to the user, never retried
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRateLimitExceeded is surfaced directly to the user, never retried
	ErrRateLimitExceeded = errors.New("too many attempts, please try again later")

	// ErrTokenExpired means the access token outlived its expiry; recovered by one refresh
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked means the access token is on the blacklist
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenInvalid means the token failed signature or claims validation
	ErrTokenInvalid = errors.New("invalid token")

	// ErrRefreshFailed forces a logout; it is not retried
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrNetwork wraps transport failures talking to the auth API
	ErrNetwork = errors.New("network error")

	// ErrCorruptedLocalState is logged and treated as "no session"
	ErrCorruptedLocalState = errors.New("corrupted local session state")

	// ErrAuthInProgress rejects a concurrent sign-in, sign-up or OAuth callback
	ErrAuthInProgress = errors.New("authentication in progress")
)

// Error is a taxonomy error enriched with a user-facing message and HTTP status
type Error struct {
	Code    string // Error code (e.g., "rate_limit_exceeded")
	Message string // Human-readable message, safe to show to users
	Status  int    // HTTP status code

	kind error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the sentinel this error belongs to
func (e *Error) Unwrap() error {
	return e.kind
}

// NewError creates an Error of the given kind. An empty message falls back
// to the sentinel's text.
func NewError(kind error, message string) *Error {
	if message == "" && kind != nil {
		message = kind.Error()
	}
	return &Error{
		Code:    CodeOf(kind),
		Message: message,
		Status:  StatusOf(kind),
		kind:    kind,
	}
}

// CodeOf maps an error onto its taxonomy code. Unknown errors map to "server_error".
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return ErrorCodeInvalidCredentials
	case errors.Is(err, ErrRateLimitExceeded):
		return ErrorCodeRateLimitExceeded
	case errors.Is(err, ErrTokenExpired):
		return ErrorCodeTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return ErrorCodeTokenRevoked
	case errors.Is(err, ErrTokenInvalid):
		return ErrorCodeTokenInvalid
	case errors.Is(err, ErrRefreshFailed):
		return ErrorCodeRefreshFailed
	case errors.Is(err, ErrNetwork):
		return ErrorCodeNetworkError
	case errors.Is(err, ErrCorruptedLocalState):
		return ErrorCodeCorruptedLocalState
	case errors.Is(err, ErrAuthInProgress):
		return ErrorCodeAuthInProgress
	default:
		return "server_error"
	}
}

// StatusOf maps an error onto the HTTP status an API would answer with
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRefreshFailed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrAuthInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsUserVisible reports whether the error should be shown to the user as is
// rather than recovered from locally
func IsUserVisible(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrAuthInProgress)
}
