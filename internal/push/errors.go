package push

import "errors"

// Each failure kind maps to one specific, actionable user-facing message in
// the UI layer, so the taxonomy stays coarse but distinct.
var (
	// ErrUnsupported means this platform has no push gateway configured
	ErrUnsupported = errors.New("push not supported on this platform")

	// ErrPermissionDenied means notification permission was not granted
	ErrPermissionDenied = errors.New("push permission not granted")

	// ErrKeyFetchFailed means the server public key could not be retrieved
	// after all attempts
	ErrKeyFetchFailed = errors.New("failed to fetch push public key")

	// ErrRegistrationFailed means the platform-level subscription could not
	// be created (transport never became ready, bad server key, ...)
	ErrRegistrationFailed = errors.New("platform push registration failed")

	// ErrServerRegistrationFailed means the platform subscription exists
	// but the server did not accept the descriptor; re-sending the same
	// descriptor is idempotent, so the caller may simply retry
	ErrServerRegistrationFailed = errors.New("server rejected push subscription")

	// ErrNotSubscribed means there is no active subscription to tear down
	ErrNotSubscribed = errors.New("no active push subscription")
)
