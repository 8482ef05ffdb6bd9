package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned by Checkout after Close.
	ErrClosed = errors.New("pool: closed")

	// ErrCheckoutTimeout is returned when no worker became free within the
	// configured checkout timeout.
	ErrCheckoutTimeout = errors.New("pool: checkout timeout")
)

// Options configures a Pool.
type Options struct {
	// Size is the number of workers. Values below 1 are treated as 1.
	Size int

	// CheckoutTimeout bounds how long Checkout waits for a free worker.
	// Zero waits until the caller's context ends.
	CheckoutTimeout time.Duration
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Size int `json:"size"`
	Busy int `json:"busy"`
}

// Pool is a fixed-size set of workers handed out one caller at a time.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Pool[W comparable] struct {
	size    int
	timeout time.Duration
	sem     *semaphore.Weighted

	mu     sync.Mutex
	idle   []W
	busy   map[W]struct{}
	closed bool
}

// New creates a pool of opts.Size workers built by factory, which receives
// worker IDs starting at 0.
func New[W comparable](opts Options, factory func(id int) W) *Pool[W] {
	size := opts.Size
	if size < 1 {
		size = 1
	}

	p := &Pool[W]{
		size:    size,
		timeout: opts.CheckoutTimeout,
		sem:     semaphore.NewWeighted(int64(size)),
		idle:    make([]W, 0, size),
		busy:    make(map[W]struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.idle = append(p.idle, factory(i))
	}
	return p
}

// Checkout blocks until a worker is free and hands it to the caller, who must
// return it with Checkin.
func (p *Pool[W]) Checkout(ctx context.Context) (W, error) {
	var zero W

	if p.isClosed() {
		return zero, ErrClosed
	}

	waitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrCheckoutTimeout
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return zero, ErrClosed
	}
	w := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	p.busy[w] = struct{}{}
	p.mu.Unlock()

	return w, nil
}

// Checkin returns a worker obtained from Checkout. Unknown workers are ignored.
func (p *Pool[W]) Checkin(w W) {
	p.mu.Lock()
	if _, ok := p.busy[w]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.busy, w)
	p.idle = append(p.idle, w)
	p.mu.Unlock()

	p.sem.Release(1)
}

// Transaction checks out a worker, runs fn with it and checks it back in
// regardless of fn's outcome. fn's error is returned unchanged.
func (p *Pool[W]) Transaction(ctx context.Context, fn func(W) error) error {
	w, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer p.Checkin(w)
	return fn(w)
}

// Close stops handing out workers and waits until every checked-out worker
// has been returned or ctx ends.
func (p *Pool[W]) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, int64(p.size)); err != nil {
		return err
	}
	p.sem.Release(int64(p.size))
	return nil
}

// Stats returns current pool usage.
func (p *Pool[W]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Size: p.size, Busy: len(p.busy)}
}

func (p *Pool[W]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
