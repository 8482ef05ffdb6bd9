// Package pool provides a bounded worker pool with checkout/checkin semantics.
//
// The relay performs every broker publish and every local fan-out on a pool
// worker, so the pool size caps how many of those operations run at once.
// Checkout blocks while all workers are busy; a checkout timeout turns a
// stalled pool into ErrCheckoutTimeout instead of an indefinite wait.
//
//	p := pool.New(pool.Options{Size: 5, CheckoutTimeout: 5 * time.Second},
//	    func(id int) *Worker { return newWorker(id) })
//
//	err := p.Transaction(ctx, func(w *Worker) error {
//	    return w.Publish(ctx, channel, env)
//	})
package pool
