package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/nerrad567/grayrelay/internal/broker"
	"github.com/nerrad567/grayrelay/internal/infrastructure/logging"
	"github.com/nerrad567/grayrelay/internal/pool"
)

// Defaults applied by New for zero option values.
const (
	DefaultNamespace       = "grayrelay"
	DefaultMaxAttempts     = 3
	DefaultRetryDelay      = 5000 * time.Millisecond
	DefaultPoolSize        = 5
	DefaultCheckoutTimeout = 5000 * time.Millisecond

	// inboxSize bounds events queued for the actor goroutine.
	inboxSize = 64

	// poolCloseTimeout bounds how long Run waits for busy workers on exit.
	poolCloseTimeout = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	// Name is the name the server registers under in Directory.
	Name string
	// Namespace prefixes every broker channel.
	Namespace string

	Broker broker.Client
	Local  LocalRegistry

	// Pool executes publishes and fan-outs. When nil, the server builds and
	// owns a pool of PoolSize workers.
	Pool            Pool
	PoolSize        int
	CheckoutTimeout time.Duration

	MaxAttempts int
	RetryDelay  time.Duration

	// NodeID identifies this instance in envelopes. Generated when empty.
	NodeID string

	Clock     clock.Clock
	Logger    *logging.Logger
	Observer  Observer
	Directory *Directory
}

// Server relays broadcasts between the local registry and the broker.
//
// One actor goroutine, started by Run, owns the connection state and handles
// link signals, inbound deliveries and broadcast requests one at a time.
// Readers observe the state through an atomic snapshot.
type Server struct {
	name        string
	namespace   string
	client      broker.Client
	scheme      broker.Scheme
	local       LocalRegistry
	pool        Pool
	closePool   func(context.Context) error
	maxAttempts int
	retryDelay  time.Duration
	nodeID      string
	clock       clock.Clock
	logger      *logging.Logger
	observer    Observer
	directory   *Directory

	inbox   chan event
	done    chan struct{}
	started atomic.Bool
	running atomic.Bool
	state   atomic.Pointer[State]

	// Owned by the actor goroutine.
	cur          State
	timer        *clock.Timer
	retryPending bool
	fanoutCtx    context.Context
	fanout       sync.WaitGroup
}

// New creates a server. It does not touch the broker until Run.
func New(opts Options) (*Server, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("%w: broker client is required", ErrInvalidOptions)
	}
	if opts.Local == nil {
		return nil, fmt.Errorf("%w: local registry is required", ErrInvalidOptions)
	}

	s := &Server{
		name:        opts.Name,
		namespace:   opts.Namespace,
		client:      opts.Broker,
		scheme:      opts.Broker.Scheme(),
		local:       opts.Local,
		pool:        opts.Pool,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		nodeID:      opts.NodeID,
		clock:       opts.Clock,
		logger:      opts.Logger,
		observer:    opts.Observer,
		directory:   opts.Directory,
		inbox:       make(chan event, inboxSize),
		done:        make(chan struct{}),
	}
	if s.namespace == "" {
		s.namespace = DefaultNamespace
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}
	if s.nodeID == "" {
		s.nodeID = uuid.NewString()
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.pool == nil {
		size := opts.PoolSize
		if size <= 0 {
			size = DefaultPoolSize
		}
		timeout := opts.CheckoutTimeout
		if timeout <= 0 {
			timeout = DefaultCheckoutTimeout
		}
		p := pool.New(pool.Options{Size: size, CheckoutTimeout: timeout}, func(id int) *Worker {
			return NewWorker(id, opts.Broker, opts.Local)
		})
		s.pool = p
		s.closePool = p.Close
	}

	s.logger = s.logger.With("node", s.name, "node_id", s.nodeID)
	s.cur = initialState(s.nodeID)
	s.state.Store(&s.cur)

	return s, nil
}

// Name returns the configured name.
func (s *Server) Name() string {
	return s.name
}

// NodeID returns the identity stamped on outbound envelopes.
func (s *Server) NodeID() string {
	return s.nodeID
}

// State returns the latest connection state snapshot.
func (s *Server) State() State {
	return *s.state.Load()
}

// IsConnected reports whether Broadcast is currently permitted.
func (s *Server) IsConnected() bool {
	return s.State().Connected()
}

// Run connects to the broker and processes events until ctx is cancelled,
// Shutdown is called, or the initial connection cannot be established.
//
// It returns nil on a clean stop and ErrExceededMaxConnAttempts when the retry
// budget ran out. A server runs at most once.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if s.directory != nil && s.name != "" {
		if err := s.directory.Register(s.name, s); err != nil {
			close(s.done)
			return fmt.Errorf("registering %q: %w", s.name, err)
		}
		defer s.directory.Unregister(s.name, s)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.fanoutCtx = runCtx
	s.running.Store(true)

	defer func() {
		s.running.Store(false)
		close(s.done)
		s.drain()
		cancel()
		s.fanout.Wait()
		if s.closePool != nil {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), poolCloseTimeout)
			if err := s.closePool(closeCtx); err != nil {
				s.logger.Warn("worker pool did not drain", "error", err)
			}
			closeCancel()
		}
	}()

	s.logger.Info("relay starting",
		"namespace", s.namespace,
		"max_attempts", s.maxAttempts,
		"retry_delay", s.retryDelay.String(),
	)

	s.connect(runCtx)

	for {
		select {
		case <-ctx.Done():
			return s.terminate(nil)
		case ev := <-s.inbox:
			if _, ok := ev.(shutdown); ok {
				return s.terminate(nil)
			}
			if err := s.handle(runCtx, ev); err != nil {
				return s.terminate(err)
			}
		}
	}
}

// Shutdown asks the actor to stop and waits until Run has returned or ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	if err := s.post(ctx, shutdown{}); err != nil && !errors.Is(err, ErrStopped) {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) handle(ctx context.Context, ev event) error {
	switch ev := ev.(type) {
	case connectTimer:
		return s.handleTimer(ctx)
	case brokerConnected:
		s.handleConnected(ev)
	case brokerDisconnected:
		s.handleDisconnected(ev)
	case brokerPush:
		s.handlePush(ev)
	case broadcastRequest:
		ev.reply <- s.publish(ev)
	}
	return nil
}

// post queues ev for the actor. It fails once the server has stopped.
func (s *Server) post(ctx context.Context, ev event) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	select {
	case s.inbox <- ev:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setState publishes next as the current state.
func (s *Server) setState(next State) {
	prev := s.cur
	s.cur = next
	s.state.Store(&next)
	if prev.Status != next.Status || prev.ReconnectAttempts != next.ReconnectAttempts {
		s.observer.StateChanged(prev, next)
	}
}

// terminate releases the broker handle and marks the server terminated.
func (s *Server) terminate(cause error) error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.retryPending = false

	if h := s.cur.handle; h != nil {
		if err := h.Close(); err != nil {
			s.logger.Warn("closing broker connection", "error", err)
		}
	}
	s.setState(s.cur.terminated())
	s.drain()

	if cause != nil {
		s.logger.Error("relay terminated", "error", cause, "attempts", s.cur.ReconnectAttempts)
	} else {
		s.logger.Info("relay stopped")
	}
	return cause
}

// drain empties the inbox. Queued deliveries are acknowledged and queued
// broadcasts fail with ErrStopped.
func (s *Server) drain() {
	for {
		select {
		case ev := <-s.inbox:
			switch ev := ev.(type) {
			case brokerPush:
				s.ack(ev.delivery)
			case broadcastRequest:
				ev.reply <- ErrStopped
			}
		default:
			return
		}
	}
}
