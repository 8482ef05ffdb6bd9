package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/grayrelay/internal/broker"
	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
	"github.com/nerrad567/grayrelay/internal/infrastructure/logging"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Client is a broker.Client backed by an MQTT broker.
//
// Every Dial opens one paho connection that carries both the relay's
// subscription and its publishes. Publish always uses the most recently
// dialed connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cfg    config.BrokerConfig
	opts   Options
	logger *logging.Logger

	// newClient builds the paho client; replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	current atomic.Pointer[subConn]
}

// New creates an MQTT client from the broker config. It does not connect.
func New(cfg config.BrokerConfig, logger *logging.Logger) (*Client, error) {
	opts, err := ParseOptions(cfg.Options)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Client{
		cfg:       cfg,
		opts:      opts,
		logger:    logger.With("component", "mqtt", "host", cfg.Host, "port", cfg.Port),
		newClient: pahomqtt.NewClient,
	}, nil
}

// Scheme returns the MQTT topic scheme.
func (c *Client) Scheme() broker.Scheme {
	return broker.MQTTScheme
}

// clientID returns the configured client ID or a unique one per connection,
// since the broker drops an older session that reuses an ID.
func (c *Client) clientID() string {
	if c.opts.ClientID != "" {
		return c.opts.ClientID
	}
	return "grayrelay-" + uuid.NewString()[:8]
}

// Dial connects to the broker and returns the relay connection. A failed
// first connect is returned and not retried.
func (c *Client) Dial(ctx context.Context, n broker.Notifier) (broker.Conn, error) {
	s := &subConn{
		client:   c,
		notifier: n,
		window:   make(chan struct{}, c.opts.DeliveryWindow),
		done:     make(chan struct{}),
	}

	po := buildClientOptions(c.cfg, c.opts, c.clientID())
	po.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.handleConnect()
	})
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleLost(err)
	})

	s.pc = c.newClient(po)
	if err := wait(ctx, s.pc.Connect(), c.opts.ConnectTimeout); err != nil {
		s.pc.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.current.Store(s)
	return s, nil
}

// Publish sends data to topic on the current connection.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	if !ValidTopicName(topic) {
		return ErrInvalidTopic
	}
	if len(data) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(data), maxPayloadSize)
	}

	s := c.current.Load()
	if s == nil {
		return ErrNotConnected
	}

	if err := wait(ctx, s.pc.Publish(topic, c.opts.QoS, false, data), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// HealthCheck verifies the current connection is open.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	s := c.current.Load()
	if s == nil || !s.pc.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

// Close forgets the current connection. Connections are closed by their owners.
func (c *Client) Close() error {
	c.current.Store(nil)
	return nil
}

// wait blocks until token completes, ctx ends or timeout elapses.
func wait(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

// subConn is the broker.Conn for one paho connection.
type subConn struct {
	client   *Client
	notifier broker.Notifier
	pc       pahomqtt.Client

	window    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// connects counts OnConnect callbacks; the first one is the initial connect.
	connects atomic.Int32

	mu       sync.Mutex
	patterns []string
}

// PSubscribe subscribes to filter. A confirmation delivery follows once the
// broker granted the subscription.
func (s *subConn) PSubscribe(ctx context.Context, filter string) error {
	if !ValidFilter(filter) {
		return ErrInvalidTopic
	}
	if s.closed() {
		return ErrClosed
	}

	if err := s.subscribe(ctx, filter); err != nil {
		return err
	}

	s.mu.Lock()
	s.patterns = append(s.patterns, filter)
	s.mu.Unlock()

	// The caller may be the receiver of this delivery.
	go s.deliver(broker.KindSubscription, filter, filter, nil, nil)
	return nil
}

func (s *subConn) subscribe(ctx context.Context, filter string) error {
	token := s.pc.Subscribe(filter, s.client.opts.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.handleMessage(filter, msg)
	})
	if err := wait(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Close disconnects. It does not wait for blocked message handlers, which
// give up once done is closed.
func (s *subConn) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.current.CompareAndSwap(s, nil)
		s.pc.Disconnect(defaultDisconnectQuiesce)
	})
	return nil
}

func (s *subConn) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subConn) handleMessage(filter string, msg pahomqtt.Message) {
	if !s.deliver(broker.KindMessage, filter, msg.Topic(), msg.Payload(), msg.Ack) {
		msg.Ack()
	}
}

// deliver waits for a window slot and hands the delivery to the notifier.
// It reports false if the connection closed first.
func (s *subConn) deliver(kind broker.Kind, pattern, channel string, data []byte, ack func()) bool {
	select {
	case s.window <- struct{}{}:
	case <-s.done:
		return false
	}

	s.notifier.Deliver(s, broker.NewDelivery(kind, pattern, channel, data, func() {
		select {
		case <-s.window:
		default:
		}
		if ack != nil {
			ack()
		}
	}))
	return true
}

func (s *subConn) handleConnect() {
	if s.connects.Add(1) == 1 || s.closed() {
		return
	}

	s.mu.Lock()
	patterns := append([]string(nil), s.patterns...)
	s.mu.Unlock()

	for _, filter := range patterns {
		if err := s.subscribe(context.Background(), filter); err != nil {
			s.client.logger.Warn("mqtt resubscribe failed", "filter", filter, "error", err)
			continue
		}
		go s.deliver(broker.KindSubscription, filter, filter, nil, nil)
	}

	s.client.logger.Info("mqtt link restored")
	s.notifier.Connected(s)
}

func (s *subConn) handleLost(err error) {
	if s.closed() {
		return
	}
	s.client.logger.Warn("mqtt link lost", "error", err)
	s.notifier.Disconnected(s, err)
}
