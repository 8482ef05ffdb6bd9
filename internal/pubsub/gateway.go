package pubsub

import (
	"context"
	"errors"

	"github.com/nerrad567/grayrelay/internal/pool"
)

// Broadcast publishes payload to topic on every node, this one included.
//
// It fails fast with ErrNoConnection while the broker link is down, which
// includes a server that has not been run yet, and with ErrStopped once Run
// has returned. Otherwise it blocks until a pool worker has published the
// envelope and returns the worker's result. Pool and transport errors are
// returned unchanged.
func (s *Server) Broadcast(ctx context.Context, sender, topic string, payload []byte) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	if !s.running.Load() {
		s.observer.BroadcastDone(ResultNoConnection)
		return ErrNoConnection
	}
	if !s.scheme.ValidTopic(topic) {
		return ErrInvalidTopic
	}

	req := broadcastRequest{
		ctx:     ctx,
		sender:  sender,
		topic:   topic,
		payload: payload,
		reply:   make(chan error, 1),
	}
	if err := s.post(ctx, req); err != nil {
		return err
	}

	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish runs on the actor goroutine.
func (s *Server) publish(req broadcastRequest) error {
	if !s.cur.Connected() {
		s.observer.BroadcastDone(ResultNoConnection)
		return ErrNoConnection
	}

	env := Envelope{
		Version: EnvelopeVersion,
		NodeID:  s.nodeID,
		Sender:  req.sender,
		Payload: req.payload,
	}

	w, err := s.pool.Checkout(req.ctx)
	if err != nil {
		s.observer.BroadcastDone(ResultPoolError)
		s.logger.Warn("broadcast checkout failed", "topic", req.topic, "error", err)
		return err
	}
	defer s.pool.Checkin(w)

	if err := w.Publish(req.ctx, s.scheme.Channel(s.namespace, req.topic), env); err != nil {
		s.observer.BroadcastDone(ResultTransportError)
		s.logger.Warn("broadcast publish failed", "topic", req.topic, "worker", w.ID(), "error", err)
		return err
	}

	s.observer.BroadcastDone(ResultOK)
	return nil
}

// IsPoolError reports whether err came from checking out a worker rather than
// from the broker.
func IsPoolError(err error) bool {
	return errors.Is(err, pool.ErrCheckoutTimeout) || errors.Is(err, pool.ErrClosed)
}
