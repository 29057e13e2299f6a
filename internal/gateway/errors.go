package gateway

import (
	"errors"
)

// ErrOffline covers every transient failure to reach or be accepted by
// the gateway: transport errors, timeouts, and non-2xx responses. The
// sync engine reacts to all of them the same way — local fallback and
// retry.
var ErrOffline = errors.New("gateway unreachable or rejected the request")

// ErrUnknownField means the server reports that the submitted question
// no longer exists. The corresponding local cache entry must be purged
// to avoid an infinite retry loop on a dead identifier.
var ErrUnknownField = errors.New("gateway does not know this field")
