// Package pubsub relays broadcasts between a node-local subscriber registry
// and the other nodes of a cluster through a shared message broker.
//
// # Connection lifecycle
//
// A Server connects on Run. A failed first connection is retried every
// RetryDelay; once MaxAttempts attempts have failed, Run returns
// ErrExceededMaxConnAttempts so a supervisor can start a fresh server. After the
// first success the broker client reconnects on its own and the server only
// mirrors the link status it reports.
//
// # Broadcasting
//
//	err := srv.Broadcast(ctx, "user-42", "room:lobby", payload)
//	if errors.Is(err, pubsub.ErrNoConnection) {
//	    // link is down, nothing was published
//	}
//
// Broadcasts are published to "<namespace><sep><topic>" wrapped in a msgpack
// Envelope carrying the node ID and the sender. Every node, including the
// publishing one, receives the broadcast through its pattern subscription and
// hands it to its local subscribers except the sender itself.
//
// # Concurrency
//
// All connection state is owned by a single actor goroutine that processes
// link signals, inbound deliveries and broadcast requests in arrival order.
// Publishes and fan-outs run on pool workers; fan-out is not awaited.
package pubsub
