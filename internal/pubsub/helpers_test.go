package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/grayrelay/internal/broker"
	"github.com/nerrad567/grayrelay/internal/registry"
)

const testRetryDelay = 5000 * time.Millisecond

var errDialRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

// fakeClient is a scripted broker.Client.
type fakeClient struct {
	mu         sync.Mutex
	dials      int
	failDials  int // number of leading Dial calls that fail; -1 fails forever
	subErr     error
	publishErr error
	published  []publishedMsg
	conns      []*fakeConn
	notifier   broker.Notifier
}

type publishedMsg struct {
	channel string
	data    []byte
}

func (f *fakeClient) Scheme() broker.Scheme { return broker.RedisScheme }

func (f *fakeClient) Dial(_ context.Context, n broker.Notifier) (broker.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dials++
	if f.failDials < 0 || f.dials <= f.failDials {
		return nil, errDialRefused
	}
	c := &fakeConn{subErr: f.subErr}
	f.conns = append(f.conns, c)
	f.notifier = n
	return c, nil
}

func (f *fakeClient) Publish(_ context.Context, channel string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{channel: channel, data: data})
	return nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeClient) lastConn() (*fakeConn, broker.Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil, nil
	}
	return f.conns[len(f.conns)-1], f.notifier
}

func (f *fakeClient) publishedMsgs() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMsg(nil), f.published...)
}

type fakeConn struct {
	mu       sync.Mutex
	patterns []string
	closed   int
	subErr   error
}

func (c *fakeConn) PSubscribe(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.patterns = append(c.patterns, pattern)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// countingPool records every call made into it.
type countingPool struct {
	mu        sync.Mutex
	checkouts int
	checkins  int
	err       error
	worker    *Worker
}

func (p *countingPool) Checkout(context.Context) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts++
	if p.err != nil {
		return nil, p.err
	}
	return p.worker, nil
}

func (p *countingPool) Checkin(*Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkins++
}

func (p *countingPool) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkouts, p.checkins
}

// countingObserver counts notifications.
type countingObserver struct {
	NopObserver
	acks         atomic.Int32
	decodeErrs   atomic.Int32
	fanoutErrs   atomic.Int32
	localInbound atomic.Int32
	results      sync.Map // result -> *atomic.Int32
}

func (o *countingObserver) Acked()        { o.acks.Add(1) }
func (o *countingObserver) DecodeFailed() { o.decodeErrs.Add(1) }
func (o *countingObserver) FanoutFailed() { o.fanoutErrs.Add(1) }

func (o *countingObserver) Inbound(kind broker.Kind, origin string) {
	if kind == broker.KindMessage && origin == OriginLocal {
		o.localInbound.Add(1)
	}
}

func (o *countingObserver) BroadcastDone(result string) {
	v, _ := o.results.LoadOrStore(result, new(atomic.Int32))
	v.(*atomic.Int32).Add(1)
}

func (o *countingObserver) result(name string) int32 {
	v, ok := o.results.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

// blockingSubscriber holds up fan-out until release is closed.
type blockingSubscriber struct {
	id      string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSubscriber) ID() string { return b.id }

func (b *blockingSubscriber) Deliver(registry.Message) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return nil
}

// startServer runs a server built from opts and stops it at test cleanup.
func startServer(t *testing.T, opts Options) (*Server, <-chan error) {
	t.Helper()

	if opts.Local == nil {
		opts.Local = registry.New()
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(context.Background())
	}()

	waitFor(t, "server running", func() bool { return s.running.Load() || s.State().Status == StatusTerminated })

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return s, errc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// countingAck returns an ack callback and a function reading how often it ran.
func countingAck() (func(), func() int32) {
	var n atomic.Int32
	return func() { n.Add(1) }, n.Load
}

func encode(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}
