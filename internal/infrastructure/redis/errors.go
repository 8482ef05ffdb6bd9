package redis

import "errors"

// Domain-specific errors for Redis broker operations.
var (
	// ErrConnectionFailed is returned when the subscriber connection cannot be dialed.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrInvalidOption is returned for malformed broker options.
	ErrInvalidOption = errors.New("redis: invalid option")

	// ErrClosed is returned by operations on a closed subscriber connection.
	ErrClosed = errors.New("redis: connection closed")
)
