package pubsub

import "context"

// connect performs one connect attempt. On success the server subscribes to
// its namespace pattern and resets the attempt counter; on failure it
// schedules a retry after retryDelay.
func (s *Server) connect(ctx context.Context) {
	attempt := s.cur.ReconnectAttempts + 1

	conn, err := s.client.Dial(ctx, linkNotifier{s: s})
	if err != nil {
		s.logger.Warn("broker connect failed",
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"error", err,
		)
		s.scheduleRetry()
		s.setState(s.cur.failed())
		return
	}

	pattern := s.scheme.Pattern(s.namespace)
	if err := conn.PSubscribe(ctx, pattern); err != nil {
		s.logger.Warn("broker subscribe failed",
			"attempt", attempt,
			"pattern", pattern,
			"error", err,
		)
		if cerr := conn.Close(); cerr != nil {
			s.logger.Debug("closing unsubscribed connection", "error", cerr)
		}
		s.scheduleRetry()
		s.setState(s.cur.failed())
		return
	}

	s.setState(s.cur.connected(conn))
	s.logger.Info("broker connected", "pattern", pattern, "attempt", attempt)
}

// scheduleRetry arms the retry timer. The timer posts into the inbox so the
// attempt runs on the actor goroutine.
func (s *Server) scheduleRetry() {
	s.retryPending = true
	s.timer = s.clock.AfterFunc(s.retryDelay, func() {
		s.post(context.Background(), connectTimer{}) //nolint:errcheck // dropped once the server stopped
	})
}

func (s *Server) handleTimer(ctx context.Context) error {
	if s.cur.Connected() || !s.retryPending {
		s.logger.Debug("ignoring stale connect timer", "status", s.cur.Status.String())
		return nil
	}
	s.retryPending = false
	s.timer = nil

	if s.cur.ReconnectAttempts >= s.maxAttempts {
		return ErrExceededMaxConnAttempts
	}
	s.connect(ctx)
	return nil
}

// handleConnected reflects a link restored by the broker client itself.
func (s *Server) handleConnected(ev brokerConnected) {
	if ev.conn == nil || ev.conn != s.cur.handle {
		s.logger.Debug("ignoring connect signal from stale connection")
		return
	}
	if s.cur.Connected() {
		return
	}
	s.setState(s.cur.linkUp())
	s.logger.Info("broker link restored")
}

// handleDisconnected reflects a lost link. The broker client reconnects on its
// own, so no retry is scheduled.
func (s *Server) handleDisconnected(ev brokerDisconnected) {
	if ev.conn == nil || ev.conn != s.cur.handle {
		s.logger.Debug("ignoring disconnect signal from stale connection", "error", ev.err)
		return
	}
	if !s.cur.Connected() {
		return
	}
	s.setState(s.cur.linkDown())
	s.logger.Warn("broker link lost", "error", ev.err)
}
