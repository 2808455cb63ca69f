package mabang

import "errors"

// The dispatcher classifies every call outcome into exactly one of these
// kinds. Transport, protocol and session-expired failures are transient and
// retried by the bounded retry policy; everything else surfaces on first
// occurrence.
var (
	// ErrTransport indicates the backend could not be reached at all
	// (connection refused, timeout, DNS failure).
	ErrTransport = errors.New("mabang: backend unreachable")

	// ErrProtocol indicates the backend answered but not in the expected
	// shape: a non-200 status, a body that is not JSON, or an envelope
	// without a success flag.
	ErrProtocol = errors.New("mabang: malformed backend response")

	// ErrSessionExpired indicates the backend rejected the call because the
	// session lapsed. The dispatcher has already forced a re-login by the
	// time this error is returned; the retry wrapper resubmits the call.
	ErrSessionExpired = errors.New("mabang: session expired")

	// ErrBusiness indicates an explicit rejection by the backend, including
	// the success-with-errorMessage shape. Never retried.
	ErrBusiness = errors.New("mabang: backend rejected the request")

	// ErrLogin indicates one of the three login steps failed. The previous
	// session state is left untouched.
	ErrLogin = errors.New("mabang: login failed")

	// ErrAuthFailed is returned by the session manager after repeated
	// validation failures; the credentials are presumed bad.
	ErrAuthFailed = errors.New("mabang: session validation failed repeatedly")
)

// IsRetryable reports whether err is one of the transient kinds the bounded
// retry policy is allowed to resubmit.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrSessionExpired)
}
