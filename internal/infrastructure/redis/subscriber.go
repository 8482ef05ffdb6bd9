package redis

import (
	"context"
	"sync"
	"time"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/nerrad567/grayrelay/internal/broker"
)

// subConn is a broker.Conn on a dedicated Redis pub/sub connection.
//
// After a link loss it redials every ReconnectInterval and restores its
// pattern subscriptions. Deliveries are pushed to the notifier from the
// receive goroutine, at most DeliveryWindow of them unacknowledged.
type subConn struct {
	client   *Client
	notifier broker.Notifier

	window    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// mu guards psc and patterns, and serializes writes to psc.
	mu       sync.Mutex
	psc      *redigo.PubSubConn
	patterns []string
}

func newSubConn(c *Client, n broker.Notifier, rc redigo.Conn) *subConn {
	return &subConn{
		client:   c,
		notifier: n,
		window:   make(chan struct{}, c.opts.DeliveryWindow),
		done:     make(chan struct{}),
		psc:      &redigo.PubSubConn{Conn: rc},
	}
}

// PSubscribe subscribes to pattern. The pattern is restored after reconnects.
func (s *subConn) PSubscribe(ctx context.Context, pattern string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed() {
		return ErrClosed
	}
	if err := s.psc.PSubscribe(pattern); err != nil {
		return err
	}
	s.patterns = append(s.patterns, pattern)
	return nil
}

// Close closes the connection and stops reconnecting. It does not wait for
// the receive goroutine.
func (s *subConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		psc := s.psc
		s.mu.Unlock()
		err = psc.Close()
	})
	return err
}

func (s *subConn) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subConn) current() *redigo.PubSubConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.psc
}

func (s *subConn) run() {
	logger := s.client.logger
	psc := s.current()

	for {
		err := s.receive(psc)
		psc.Close()
		if s.closed() {
			return
		}

		logger.Warn("redis subscriber link lost", "error", err)
		s.notifier.Disconnected(s, err)

		if psc = s.reconnect(); psc == nil {
			return
		}
		logger.Info("redis subscriber link restored")
		s.notifier.Connected(s)
	}
}

// receive pushes deliveries until the connection fails or is closed.
func (s *subConn) receive(psc *redigo.PubSubConn) error {
	interval := s.client.opts.HealthCheckInterval

	stop := make(chan struct{})
	defer close(stop)
	if interval > 0 {
		go s.healthCheck(psc, interval, stop)
	}

	for {
		var reply any
		if interval > 0 {
			reply = psc.ReceiveWithTimeout(2 * interval)
		} else {
			reply = psc.Receive()
		}

		switch v := reply.(type) {
		case redigo.Message:
			if !s.deliver(broker.KindMessage, v.Pattern, v.Channel, v.Data) {
				return ErrClosed
			}
		case redigo.Subscription:
			if v.Kind == "psubscribe" && !s.deliver(broker.KindSubscription, v.Channel, v.Channel, nil) {
				return ErrClosed
			}
		case redigo.Pong:
		case error:
			return v
		}
	}
}

// deliver waits for a window slot and hands the delivery to the notifier.
func (s *subConn) deliver(kind broker.Kind, pattern, channel string, data []byte) bool {
	select {
	case s.window <- struct{}{}:
	case <-s.done:
		return false
	}
	s.notifier.Deliver(s, broker.NewDelivery(kind, pattern, channel, data, s.release))
	return true
}

func (s *subConn) release() {
	select {
	case <-s.window:
	default:
	}
}

// healthCheck pings so that a silent dead link surfaces as a receive timeout.
func (s *subConn) healthCheck(psc *redigo.PubSubConn, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := psc.Ping("")
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect redials until it succeeds or the connection is closed, and
// restores the pattern subscriptions. It returns nil once closed.
func (s *subConn) reconnect() *redigo.PubSubConn {
	opts := s.client.opts
	ticker := time.NewTicker(opts.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return nil
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
		rc, err := s.client.dial(ctx)
		cancel()
		if err != nil {
			s.client.logger.Debug("redis redial failed", "error", err)
			continue
		}

		psc := &redigo.PubSubConn{Conn: rc}

		s.mu.Lock()
		if s.closed() {
			s.mu.Unlock()
			psc.Close()
			return nil
		}
		if len(s.patterns) > 0 {
			err = psc.PSubscribe(redigo.Args{}.AddFlat(s.patterns)...)
		}
		if err == nil {
			s.psc = psc
		}
		s.mu.Unlock()

		if err != nil {
			s.client.logger.Debug("redis resubscribe failed", "error", err)
			psc.Close()
			continue
		}
		return psc
	}
}
