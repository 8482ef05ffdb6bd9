package broker

import (
	"context"
	"sync"
)

// memoryQueueSize bounds the per-connection backlog of undelivered pushes.
const memoryQueueSize = 1024

// Memory is a process-local broker. Every connection dialed from the same
// Memory sees every message published on it, which makes it a stand-in for a
// shared broker when several relays run inside one process.
//
// Deliveries follow the same flow-control contract as the network backends:
// each connection holds at most Window unacknowledged deliveries.
type Memory struct {
	mu     sync.Mutex
	conns  map[*memoryConn]struct{}
	window int
	refuse error
	closed bool
}

// NewMemory creates an in-process broker. A window below 1 is treated as 1.
func NewMemory(window int) *Memory {
	if window < 1 {
		window = 1
	}
	return &Memory{
		conns:  make(map[*memoryConn]struct{}),
		window: window,
	}
}

// Scheme returns the Redis-style channel scheme.
func (m *Memory) Scheme() Scheme {
	return RedisScheme
}

// Refuse makes subsequent Dial calls fail with err. A nil err accepts again.
func (m *Memory) Refuse(err error) {
	m.mu.Lock()
	m.refuse = err
	m.mu.Unlock()
}

// Dial opens a subscriber connection.
func (m *Memory) Dial(ctx context.Context, n Notifier) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.refuse != nil {
		return nil, m.refuse
	}

	c := &memoryConn{
		broker:   m,
		notifier: n,
		up:       true,
		queue:    make(chan *Delivery, memoryQueueSize),
		window:   make(chan struct{}, m.window),
		done:     make(chan struct{}),
	}
	m.conns[c] = struct{}{}
	go c.deliverLoop()

	return c, nil
}

// Publish pushes data to every live connection subscribed to a matching pattern.
// Connections that are down miss the message; nothing is stored.
func (m *Memory) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*memoryConn, 0, len(m.conns))
	for c := range m.conns {
		targets = append(targets, c)
	}
	m.mu.Unlock()

	for _, c := range targets {
		if pattern, ok := c.matching(channel); ok {
			payload := append([]byte(nil), data...)
			c.enqueue(KindMessage, pattern, channel, payload)
		}
	}
	return nil
}

// Drop simulates a network failure: every connection reports Disconnected
// with err and stops receiving until Restore.
func (m *Memory) Drop(err error) {
	for _, c := range m.snapshot() {
		if c.setUp(false) {
			c.notifier.Disconnected(c, err)
		}
	}
}

// Restore brings dropped connections back and reports Connected on each.
func (m *Memory) Restore() {
	for _, c := range m.snapshot() {
		if c.setUp(true) {
			c.notifier.Connected(c)
		}
	}
}

// ConnCount returns the number of open connections.
func (m *Memory) ConnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close closes the broker and every connection dialed from it.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, c := range m.snapshot() {
		c.Close()
	}
	return nil
}

func (m *Memory) snapshot() []*memoryConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]*memoryConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

func (m *Memory) remove(c *memoryConn) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}

// memoryConn is one subscriber connection of a Memory broker.
type memoryConn struct {
	broker   *Memory
	notifier Notifier

	mu       sync.Mutex
	patterns []string
	up       bool

	queue     chan *Delivery
	window    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *memoryConn) PSubscribe(ctx context.Context, pattern string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	c.patterns = append(c.patterns, pattern)
	c.mu.Unlock()

	c.enqueue(KindSubscription, pattern, pattern, nil)
	return nil
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.broker.remove(c)
	})
	return nil
}

func (c *memoryConn) matching(channel string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.up {
		return "", false
	}
	for _, p := range c.patterns {
		if c.broker.Scheme().Match(p, channel) {
			return p, true
		}
	}
	return "", false
}

// setUp changes the link state and reports whether it changed.
func (c *memoryConn) setUp(up bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.up == up {
		return false
	}
	c.up = up
	return true
}

func (c *memoryConn) enqueue(kind Kind, pattern, channel string, payload []byte) {
	d := NewDelivery(kind, pattern, channel, payload, c.release)
	select {
	case c.queue <- d:
	case <-c.done:
	}
}

func (c *memoryConn) release() {
	select {
	case <-c.window:
	default:
	}
}

// deliverLoop hands queued deliveries to the notifier, waiting for a free
// window slot before each one.
func (c *memoryConn) deliverLoop() {
	for {
		var d *Delivery
		select {
		case d = <-c.queue:
		case <-c.done:
			return
		}

		select {
		case c.window <- struct{}{}:
		case <-c.done:
			return
		}

		c.notifier.Deliver(c, d)
	}
}
