package broker

import "errors"

var (
	// ErrClosed is returned when using a connection or client after Close.
	ErrClosed = errors.New("broker: closed")

	// ErrRefused is returned by the memory broker while it refuses connections.
	ErrRefused = errors.New("broker: connection refused")

	// ErrNotConnected is returned when publishing without a live link.
	ErrNotConnected = errors.New("broker: not connected")
)
