package pubsub

import (
	"context"

	"github.com/nerrad567/grayrelay/internal/broker"
)

// event is one item in the server's inbox. The actor goroutine handles events
// strictly in arrival order.
type event interface {
	isEvent()
}

// connectTimer fires RetryDelay after a failed connect attempt.
type connectTimer struct{}

// brokerConnected and brokerDisconnected are link signals from the broker client.
type brokerConnected struct {
	conn broker.Conn
}

type brokerDisconnected struct {
	conn broker.Conn
	err  error
}

// brokerPush carries a delivery from the subscriber connection.
type brokerPush struct {
	conn     broker.Conn
	delivery *broker.Delivery
}

// broadcastRequest is answered on reply once the publish completed or failed.
type broadcastRequest struct {
	ctx     context.Context
	sender  string
	topic   string
	payload []byte
	reply   chan error
}

type shutdown struct{}

func (connectTimer) isEvent()       {}
func (brokerConnected) isEvent()    {}
func (brokerDisconnected) isEvent() {}
func (brokerPush) isEvent()         {}
func (broadcastRequest) isEvent()   {}
func (shutdown) isEvent()           {}

// linkNotifier turns broker client callbacks into inbox events.
type linkNotifier struct {
	s *Server
}

func (n linkNotifier) Connected(c broker.Conn) {
	n.s.post(context.Background(), brokerConnected{conn: c}) //nolint:errcheck // dropped once the server stopped
}

func (n linkNotifier) Disconnected(c broker.Conn, err error) {
	n.s.post(context.Background(), brokerDisconnected{conn: c, err: err}) //nolint:errcheck // dropped once the server stopped
}

func (n linkNotifier) Deliver(c broker.Conn, d *broker.Delivery) {
	if err := n.s.post(context.Background(), brokerPush{conn: c, delivery: d}); err != nil {
		n.s.ack(d)
	}
}
