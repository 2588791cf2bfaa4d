package tedapi

import "errors"

// Sentinel errors for the conditions callers are expected to branch on.
// Anything not wrapping one of these is a plain request failure, safe to
// retry on the next poll cycle.
var (
	// ErrAuth means the gateway rejected our credentials. Fatal for the
	// current credentials; retrying without operator action is pointless.
	ErrAuth = errors.New("tedapi: authentication rejected")

	// ErrRateLimited means the gateway answered 429/503. The request
	// executor reacts by opening a cooldown window.
	ErrRateLimited = errors.New("tedapi: rate limited by gateway")

	// ErrLockTimeout means another fetch for the same operation held the
	// lock for the whole acquisition window.
	ErrLockTimeout = errors.New("tedapi: timed out waiting for in-flight request")

	// ErrKeyNotRegistered means the gateway does not know our signing
	// key. Registration happens out of band; nothing to retry here.
	ErrKeyNotRegistered = errors.New("tedapi: signing key not registered with gateway")

	// ErrRouteTimeout means the gateway could not reach the addressed
	// sub-device. Transient; retry on a later poll.
	ErrRouteTimeout = errors.New("tedapi: sub-device route unreachable")
)
