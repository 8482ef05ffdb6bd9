package pubsub

import (
	"github.com/nerrad567/grayrelay/internal/broker"
)

// handlePush routes one delivery from the subscriber connection. Every
// delivery is acknowledged exactly once, after fan-out has been dispatched.
func (s *Server) handlePush(ev brokerPush) {
	d := ev.delivery
	defer s.ack(d)

	if d.Kind == broker.KindSubscription {
		s.observer.Inbound(broker.KindSubscription, OriginBroker)
		s.logger.Debug("subscription confirmed", "pattern", d.Pattern)
		return
	}

	if ev.conn != s.cur.handle {
		s.logger.Debug("dropping delivery from stale connection", "channel", d.Channel)
		return
	}

	topic, ok := s.scheme.Topic(s.namespace, d.Channel)
	if !ok {
		s.logger.Warn("dropping delivery outside namespace", "channel", d.Channel)
		return
	}

	env, err := DecodeEnvelope(d.Payload)
	if err != nil {
		s.observer.DecodeFailed()
		s.logger.Warn("dropping malformed broadcast", "channel", d.Channel, "bytes", len(d.Payload), "error", err)
		return
	}

	origin := OriginRemote
	if env.NodeID == s.nodeID {
		origin = OriginLocal
	}
	s.observer.Inbound(broker.KindMessage, origin)

	s.dispatch(topic, env, origin == OriginLocal)
}

// dispatch fans env out to local subscribers on a pool worker without waiting
// for the result.
func (s *Server) dispatch(topic string, env Envelope, self bool) {
	ctx := s.fanoutCtx
	s.fanout.Add(1)
	go func() {
		defer s.fanout.Done()

		w, err := s.pool.Checkout(ctx)
		if err != nil {
			s.observer.FanoutFailed()
			s.logger.Warn("fan-out checkout failed", "topic", topic, "error", err)
			return
		}
		defer s.pool.Checkin(w)

		if err := w.Forward(topic, env, self); err != nil {
			s.observer.FanoutFailed()
			s.logger.Debug("fan-out delivery failed", "topic", topic, "error", err)
		}
	}()
}

func (s *Server) ack(d *broker.Delivery) {
	d.Ack()
	s.observer.Acked()
}
