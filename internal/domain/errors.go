package domain

import "errors"

var (
	// ErrBackendUnavailable is returned when a storage backend cannot be
	// reached. The gateway handles it internally (fallback chain or
	// emergency cache); it never surfaces to the trading caller.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrStorageClosed is returned for operations issued after shutdown.
	ErrStorageClosed = errors.New("storage closed")
)
