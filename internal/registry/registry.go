package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Message is one broadcast delivered to local subscribers.
type Message struct {
	Topic string
	// From is the ID of the publishing subscriber, empty for anonymous senders.
	From string
	// Origin is the node ID the broadcast was published on.
	Origin string
	// Local is set when Origin is this node. Only then does From name a
	// local subscriber.
	Local   bool
	Payload []byte
}

// Subscriber receives messages for the topics it subscribed to.
type Subscriber interface {
	ID() string
	// Deliver must not block for long; it runs on a relay pool worker.
	Deliver(msg Message) error
}

// Registry maps topics to the local subscribers interested in them.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[string]Subscriber
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{topics: make(map[string]map[string]Subscriber)}
}

// Subscribe adds sub to topic.
func (r *Registry) Subscribe(sub Subscriber, topic string) error {
	if sub == nil || sub.ID() == "" {
		return ErrInvalidSubscriber
	}
	if topic == "" {
		return ErrInvalidTopic
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[string]Subscriber)
		r.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	return nil
}

// Unsubscribe removes sub from topic. Removing an absent subscription is not an error.
func (r *Registry) Unsubscribe(sub Subscriber, topic string) error {
	if sub == nil || sub.ID() == "" {
		return ErrInvalidSubscriber
	}
	if topic == "" {
		return ErrInvalidTopic
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(sub.ID(), topic)
	return nil
}

// UnsubscribeAll removes the subscriber with the given ID from every topic.
func (r *Registry) UnsubscribeAll(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.topics {
		r.remove(id, topic)
	}
}

// remove must be called with mu held.
func (r *Registry) remove(id, topic string) {
	subs, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

// Subscribers returns the subscribers of topic sorted by ID.
func (r *Registry) Subscribers(topic string) ([]Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscriber, 0, len(r.topics[topic]))
	for _, s := range r.topics[topic] {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID() < subs[j].ID() })
	return subs, nil
}

// List returns every topic with at least one subscriber, sorted.
func (r *Registry) List() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.topics))
	for t := range r.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics, nil
}

// Broadcast delivers msg to every subscriber of msg.Topic. For local
// broadcasts the subscriber named by msg.From is skipped. Every subscriber
// is attempted; delivery errors are joined.
func (r *Registry) Broadcast(msg Message) error {
	subs, _ := r.Subscribers(msg.Topic) //nolint:errcheck // Subscribers never fails

	var errs []error
	for _, s := range subs {
		if msg.Local && msg.From != "" && s.ID() == msg.From {
			continue
		}
		if err := s.Deliver(msg); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}
