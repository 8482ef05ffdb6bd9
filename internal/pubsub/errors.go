package pubsub

import "errors"

// Domain errors for the pubsub package.
//
//	if errors.Is(err, pubsub.ErrNoConnection) {
//	    // broker link is down, try again later
//	}
var (
	// ErrNoConnection is returned by Broadcast while the broker link is down,
	// and before Run has started.
	ErrNoConnection = errors.New("pubsub: no connection")

	// ErrExceededMaxConnAttempts is returned by Run when the initial connection
	// could not be established within the configured number of attempts.
	ErrExceededMaxConnAttempts = errors.New("exceeded_max_conn_attempts")

	// ErrStopped is returned by calls made to a server whose Run has returned.
	ErrStopped = errors.New("pubsub: server stopped")

	// ErrAlreadyRunning is returned when Run is called more than once.
	ErrAlreadyRunning = errors.New("pubsub: server already started")

	// ErrInvalidTopic is returned for topics the broker would treat as patterns.
	ErrInvalidTopic = errors.New("pubsub: invalid topic")

	// ErrMalformedEnvelope is returned when an inbound payload cannot be decoded.
	ErrMalformedEnvelope = errors.New("pubsub: malformed envelope")

	// ErrUnsupportedVersion is returned for envelopes with an unknown version tag.
	ErrUnsupportedVersion = errors.New("pubsub: unsupported envelope version")

	// ErrNameTaken is returned when registering a name already held by another server.
	ErrNameTaken = errors.New("pubsub: name already registered")

	// ErrInvalidOptions is returned by New for incomplete options.
	ErrInvalidOptions = errors.New("pubsub: invalid options")
)
