package broker

import (
	"context"
	"strings"
	"sync"
)

// Scheme describes how a broker spells channel names and pattern wildcards.
type Scheme struct {
	Separator string
	Wildcard  string
	// Reserved lists characters a topic must not contain.
	Reserved string
}

// Schemes of the supported brokers.
var (
	RedisScheme = Scheme{Separator: ":", Wildcard: "*"}
	MQTTScheme  = Scheme{Separator: "/", Wildcard: "#", Reserved: "#+\x00"}
)

// Channel returns the broker channel carrying broadcasts for topic.
func (s Scheme) Channel(prefix, topic string) string {
	return prefix + s.Separator + topic
}

// Pattern returns the pattern matching every channel under prefix.
func (s Scheme) Pattern(prefix string) string {
	return prefix + s.Separator + s.Wildcard
}

// Topic strips prefix and separator from channel.
// It reports false when channel does not belong to prefix or names no topic.
func (s Scheme) Topic(prefix, channel string) (string, bool) {
	head := prefix + s.Separator
	if !strings.HasPrefix(channel, head) {
		return "", false
	}
	topic := channel[len(head):]
	return topic, topic != ""
}

// ValidTopic reports whether topic can be published as a channel name.
// Redis PUBLISH channels are literal, so only MQTT reserves its wildcards.
func (s Scheme) ValidTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, s.Reserved)
}

// Match reports whether channel matches pattern. Only exact names and a
// single trailing wildcard are supported.
func (s Scheme) Match(pattern, channel string) bool {
	if head, ok := strings.CutSuffix(pattern, s.Wildcard); ok {
		return strings.HasPrefix(channel, head)
	}
	return pattern == channel
}

// Kind distinguishes user messages from subscription confirmations.
type Kind int

const (
	// KindMessage is a message published by some node.
	KindMessage Kind = iota
	// KindSubscription confirms a pattern subscription and carries no user data.
	KindSubscription
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// Delivery is one unit pushed by a broker connection.
//
// The receiver must call Ack exactly once per delivery; clients stop pushing
// once their delivery window is full of unacknowledged deliveries. Ack is
// idempotent; a second call does not widen the window.
type Delivery struct {
	Kind    Kind
	Pattern string
	Channel string
	Payload []byte

	once sync.Once
	ack  func()
}

// NewDelivery creates a delivery whose first Ack invokes ack.
func NewDelivery(kind Kind, pattern, channel string, payload []byte, ack func()) *Delivery {
	return &Delivery{
		Kind:    kind,
		Pattern: pattern,
		Channel: channel,
		Payload: payload,
		ack:     ack,
	}
}

// Ack acknowledges the delivery to the broker client.
func (d *Delivery) Ack() {
	d.once.Do(func() {
		if d.ack != nil {
			d.ack()
		}
	})
}

// Notifier receives asynchronous events from a broker connection.
//
// Methods are called from the client's own goroutines and may block until the
// receiver takes the event.
type Notifier interface {
	// Connected reports that c re-established its link after a loss.
	Connected(c Conn)
	// Disconnected reports that c lost its link. The client keeps trying to
	// reconnect on its own until closed.
	Disconnected(c Conn, err error)
	// Deliver hands over a pushed message or subscription confirmation.
	Deliver(c Conn, d *Delivery)
}

// Conn is a subscriber connection to the broker.
type Conn interface {
	// PSubscribe subscribes the connection to a channel pattern. A
	// KindSubscription delivery follows once the broker confirms it.
	PSubscribe(ctx context.Context, pattern string) error
	// Close releases the connection. It must not wait for pending Notifier
	// calls to return.
	Close() error
}

// Publisher publishes raw payloads on a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte) error
}

// Dialer opens subscriber connections.
type Dialer interface {
	Dial(ctx context.Context, n Notifier) (Conn, error)
}

// Client bundles what a relay needs from one broker backend.
type Client interface {
	Dialer
	Publisher
	Scheme() Scheme
	// Close releases publishing resources. Subscriber connections are closed
	// separately by their owner.
	Close() error
}
