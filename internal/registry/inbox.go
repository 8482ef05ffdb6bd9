package registry

import "sync"

// Inbox is a Subscriber backed by a buffered channel.
type Inbox struct {
	id string

	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// NewInbox creates an inbox holding up to size undelivered messages.
func NewInbox(id string, size int) *Inbox {
	if size < 1 {
		size = 1
	}
	return &Inbox{id: id, ch: make(chan Message, size)}
}

// ID returns the subscriber ID.
func (i *Inbox) ID() string { return i.id }

// Deliver queues msg without blocking.
func (i *Inbox) Deliver(msg Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrInboxClosed
	}
	select {
	case i.ch <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// C returns the channel messages arrive on. It is closed by Close.
func (i *Inbox) C() <-chan Message { return i.ch }

// Close stops accepting messages and closes C.
func (i *Inbox) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.closed {
		i.closed = true
		close(i.ch)
	}
}
