package pubsub

import (
	"context"

	"github.com/nerrad567/grayrelay/internal/broker"
	"github.com/nerrad567/grayrelay/internal/registry"
)

// Pool hands out workers one caller at a time. *pool.Pool[*Worker] satisfies it.
type Pool interface {
	Checkout(ctx context.Context) (*Worker, error)
	Checkin(w *Worker)
}

// Worker performs the I/O of one broadcast: a broker publish or a local fan-out.
type Worker struct {
	id        int
	publisher broker.Publisher
	local     LocalRegistry
}

// NewWorker creates a worker publishing through p and fanning out into local.
func NewWorker(id int, p broker.Publisher, local LocalRegistry) *Worker {
	return &Worker{id: id, publisher: p, local: local}
}

// ID returns the worker's position in its pool.
func (w *Worker) ID() int {
	return w.id
}

// Publish encodes env and publishes it on channel. Transport errors are
// returned unchanged.
func (w *Worker) Publish(ctx context.Context, channel string, env Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return w.publisher.Publish(ctx, channel, data)
}

// Forward delivers env to the local subscribers of topic. self reports
// whether env was published by this node, in which case the sender is not
// delivered its own message.
func (w *Worker) Forward(topic string, env Envelope, self bool) error {
	return w.local.Broadcast(registry.Message{
		Topic:   topic,
		From:    env.Sender,
		Origin:  env.NodeID,
		Local:   self,
		Payload: env.Payload,
	})
}
