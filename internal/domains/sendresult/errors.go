package sendresult

import "errors"

var (
	// ErrConfiguration is returned by NewObserver for a missing or invalid
	// success set. It is the only failure that reaches the caller once a
	// watch is running.
	ErrConfiguration    = errors.New("send result observer is misconfigured")
	ErrStoreUnavailable = errors.New("message store is unavailable")
)
