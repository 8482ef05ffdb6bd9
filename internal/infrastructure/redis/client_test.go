package redis

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/nerrad567/grayrelay/internal/broker"
	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
)

// =============================================================================
// Test doubles
// =============================================================================

var errLinkDown = errors.New("read tcp: connection reset by peer")

// scriptConn is a redigo connection whose replies are fed by the test.
type scriptConn struct {
	replies   chan any
	closeCh   chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	cmds [][]any
}

func newScriptConn() *scriptConn {
	return &scriptConn{replies: make(chan any, 16), closeCh: make(chan struct{})}
}

func (c *scriptConn) record(cmd string, args []any) {
	if cmd == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, append([]any{cmd}, args...))
}

func (c *scriptConn) commands() [][]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]any(nil), c.cmds...)
}

func (c *scriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

func (c *scriptConn) Err() error { return nil }

func (c *scriptConn) Do(cmd string, args ...any) (any, error) {
	c.record(cmd, args)
	return int64(1), nil
}

func (c *scriptConn) DoWithTimeout(_ time.Duration, cmd string, args ...any) (any, error) {
	return c.Do(cmd, args...)
}

func (c *scriptConn) Send(cmd string, args ...any) error {
	c.record(cmd, args)
	return nil
}

func (c *scriptConn) Flush() error { return nil }

func (c *scriptConn) Receive() (any, error) {
	select {
	case r := <-c.replies:
		if err, ok := r.(error); ok {
			return nil, err
		}
		return r, nil
	case <-c.closeCh:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *scriptConn) ReceiveWithTimeout(time.Duration) (any, error) {
	return c.Receive()
}

func psubscribed(pattern string) []any {
	return []any{[]byte("psubscribe"), []byte(pattern), int64(1)}
}

func pmessage(pattern, channel, data string) []any {
	return []any{[]byte("pmessage"), []byte(pattern), []byte(channel), []byte(data)}
}

// scriptDialer hands out prepared connections in order.
type scriptDialer struct {
	mu    sync.Mutex
	conns []*scriptConn
	err   error
}

func (d *scriptDialer) dial(context.Context) (redigo.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("dial tcp: connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

// events records notifier calls in order.
type events struct {
	ch chan any
}

type connectedEvent struct{}

type disconnectedEvent struct{ err error }

func newEvents() *events { return &events{ch: make(chan any, 32)} }

func (e *events) Connected(broker.Conn)                 { e.ch <- connectedEvent{} }
func (e *events) Disconnected(_ broker.Conn, err error) { e.ch <- disconnectedEvent{err: err} }
func (e *events) Deliver(_ broker.Conn, d *broker.Delivery) {
	e.ch <- d
}

func (e *events) next(t *testing.T) any {
	t.Helper()
	select {
	case ev := <-e.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notifier event")
		return nil
	}
}

func (e *events) quiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-e.ch:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func testOptions() Options {
	return Options{
		DeliveryWindow:    1,
		ReconnectInterval: 10 * time.Millisecond,
		ConnectTimeout:    time.Second,
	}
}

// =============================================================================
// Subscriber Tests
// =============================================================================

func TestSubscriber_WindowedDeliveries(t *testing.T) {
	conn := newScriptConn()
	d := &scriptDialer{conns: []*scriptConn{conn}}
	c := newClient("test:6379", testOptions(), 1, d.dial, nil)

	ev := newEvents()
	sub, err := c.Dial(context.Background(), ev)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sub.Close()

	if err := sub.PSubscribe(context.Background(), "grayrelay:*"); err != nil {
		t.Fatalf("PSubscribe() error = %v", err)
	}
	cmds := conn.commands()
	if len(cmds) != 1 || cmds[0][0] != "PSUBSCRIBE" || cmds[0][1] != "grayrelay:*" {
		t.Fatalf("commands = %v, want PSUBSCRIBE grayrelay:*", cmds)
	}

	conn.replies <- psubscribed("grayrelay:*")
	conn.replies <- pmessage("grayrelay:*", "grayrelay:lobby", "payload")

	confirm, ok := ev.next(t).(*broker.Delivery)
	if !ok || confirm.Kind != broker.KindSubscription || confirm.Pattern != "grayrelay:*" {
		t.Fatalf("first event = %#v, want subscription confirmation", confirm)
	}

	// The message waits for the confirmation to be acked.
	ev.quiet(t)
	confirm.Ack()

	msg, ok := ev.next(t).(*broker.Delivery)
	if !ok || msg.Kind != broker.KindMessage || msg.Channel != "grayrelay:lobby" || string(msg.Payload) != "payload" {
		t.Fatalf("second event = %#v, want message", msg)
	}
}

func TestSubscriber_ReconnectRestoresPatterns(t *testing.T) {
	first, second := newScriptConn(), newScriptConn()
	d := &scriptDialer{conns: []*scriptConn{first, second}}
	c := newClient("test:6379", testOptions(), 1, d.dial, nil)

	ev := newEvents()
	sub, _ := c.Dial(context.Background(), ev)
	defer sub.Close()
	sub.PSubscribe(context.Background(), "grayrelay:*")

	first.replies <- errLinkDown

	down, ok := ev.next(t).(disconnectedEvent)
	if !ok || !errors.Is(down.err, errLinkDown) {
		t.Fatalf("event = %#v, want disconnected with link error", down)
	}
	if _, ok := ev.next(t).(connectedEvent); !ok {
		t.Fatal("expected connected after redial")
	}

	cmds := second.commands()
	if len(cmds) != 1 || cmds[0][0] != "PSUBSCRIBE" || cmds[0][1] != "grayrelay:*" {
		t.Errorf("commands on new connection = %v, want PSUBSCRIBE grayrelay:*", cmds)
	}

	second.replies <- psubscribed("grayrelay:*")
	if d, ok := ev.next(t).(*broker.Delivery); !ok || d.Kind != broker.KindSubscription {
		t.Errorf("event = %#v, want resubscription confirmation", d)
	}
}

func TestSubscriber_CloseStopsSignals(t *testing.T) {
	conn := newScriptConn()
	d := &scriptDialer{conns: []*scriptConn{conn}}
	c := newClient("test:6379", testOptions(), 1, d.dial, nil)

	ev := newEvents()
	sub, _ := c.Dial(context.Background(), ev)

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	sub.Close()

	ev.quiet(t)
	if err := sub.PSubscribe(context.Background(), "x:*"); !errors.Is(err, ErrClosed) {
		t.Errorf("PSubscribe() after Close error = %v, want ErrClosed", err)
	}
}

func TestDial_Failure(t *testing.T) {
	d := &scriptDialer{err: errors.New("dial tcp: connection refused")}
	c := newClient("test:6379", testOptions(), 1, d.dial, nil)

	if _, err := c.Dial(context.Background(), newEvents()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublish_UsesPool(t *testing.T) {
	conn := newScriptConn()
	d := &scriptDialer{conns: []*scriptConn{conn}}
	c := newClient("test:6379", testOptions(), 1, d.dial, nil)
	defer c.Close()

	if err := c.Publish(context.Background(), "grayrelay:lobby", []byte("x")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := c.Publish(context.Background(), "grayrelay:lobby", []byte("y")); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}

	var publishes int
	for _, cmd := range conn.commands() {
		if cmd[0] == "PUBLISH" {
			publishes++
		}
	}
	if publishes != 2 {
		t.Errorf("PUBLISH commands on pooled connection = %d, want 2", publishes)
	}
	if c.Scheme() != broker.RedisScheme {
		t.Errorf("Scheme() = %+v", c.Scheme())
	}
}

// =============================================================================
// Integration (requires a Redis server on 127.0.0.1:6379)
// =============================================================================

func TestIntegration_PublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	probe, err := net.DialTimeout("tcp", "127.0.0.1:6379", 200*time.Millisecond)
	if err != nil {
		t.Skip("redis not reachable on 127.0.0.1:6379")
	}
	probe.Close()

	c, err := New(config.BrokerConfig{Host: "127.0.0.1", Port: 6379}, 2, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	ev := newEvents()
	sub, err := c.Dial(ctx, ev)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sub.Close()

	if err := sub.PSubscribe(ctx, "grayrelay-test:*"); err != nil {
		t.Fatalf("PSubscribe() error = %v", err)
	}
	confirm := ev.next(t).(*broker.Delivery)
	confirm.Ack()

	if err := c.Publish(ctx, "grayrelay-test:lobby", []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	msg := ev.next(t).(*broker.Delivery)
	if msg.Channel != "grayrelay-test:lobby" || string(msg.Payload) != "hello" {
		t.Errorf("delivery = %+v", msg)
	}
	msg.Ack()

	if err := c.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
