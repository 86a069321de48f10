package api

import "errors"

var (
	// ErrNetworkUnreachable means the request never got a response; the
	// caller should queue instead of send and retry on the next pass
	ErrNetworkUnreachable = errors.New("network unreachable")

	// ErrRemoteRejected means the server answered 4xx; retrying the same
	// payload will not help and the problem should surface to the user
	ErrRemoteRejected = errors.New("request rejected by server")

	// ErrRemoteUnavailable means the server answered 5xx or timed out;
	// transient, retry on the next sync pass
	ErrRemoteUnavailable = errors.New("server unavailable")
)
