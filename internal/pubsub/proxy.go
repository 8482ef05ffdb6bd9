package pubsub

import "github.com/nerrad567/grayrelay/internal/registry"

// LocalRegistry is the node-local subscriber bookkeeping. *registry.Registry
// satisfies it.
type LocalRegistry interface {
	Subscribe(sub registry.Subscriber, topic string) error
	Unsubscribe(sub registry.Subscriber, topic string) error
	Subscribers(topic string) ([]registry.Subscriber, error)
	List() ([]string, error)
	Broadcast(msg registry.Message) error
}

// Subscribe adds sub to topic on this node.
func (s *Server) Subscribe(sub registry.Subscriber, topic string) error {
	return s.local.Subscribe(sub, topic)
}

// Unsubscribe removes sub from topic on this node.
func (s *Server) Unsubscribe(sub registry.Subscriber, topic string) error {
	return s.local.Unsubscribe(sub, topic)
}

// Subscribers returns the local subscribers of topic.
func (s *Server) Subscribers(topic string) ([]registry.Subscriber, error) {
	return s.local.Subscribers(topic)
}

// List returns the topics with local subscribers.
func (s *Server) List() ([]string, error) {
	return s.local.List()
}
