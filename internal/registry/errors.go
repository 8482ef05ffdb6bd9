package registry

import "errors"

// Domain errors for the registry package.
//
//	if errors.Is(err, registry.ErrInboxFull) {
//	    // subscriber is not keeping up
//	}
var (
	// ErrInvalidTopic is returned when a topic name is empty.
	ErrInvalidTopic = errors.New("registry: invalid topic")

	// ErrInvalidSubscriber is returned for a nil subscriber or one with an empty ID.
	ErrInvalidSubscriber = errors.New("registry: invalid subscriber")

	// ErrInboxFull is returned by Inbox.Deliver when its buffer is full.
	ErrInboxFull = errors.New("registry: inbox full")

	// ErrInboxClosed is returned by Inbox.Deliver after Close.
	ErrInboxClosed = errors.New("registry: inbox closed")
)
