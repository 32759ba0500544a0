package session

import "errors"

var (
	// ErrAuthenticationFailed is returned when the backend rejects the supplied credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRefreshFailed wraps any failure of RefreshToken. The manager is logged out when it is returned.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrAlreadyAuthenticated is returned by Login while a session is active.
	ErrAlreadyAuthenticated = errors.New("already authenticated")

	// ErrNotAuthenticated is returned by operations that need an active session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidResponse is returned when the backend answers 2xx with an unusable body.
	ErrInvalidResponse = errors.New("invalid auth response")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
