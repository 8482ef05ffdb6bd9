// Package redis implements the relay's broker client on Redis pub/sub.
//
// Broadcasts are published with PUBLISH from a bounded connection pool. Each
// relay subscribes with PSUBSCRIBE on a dedicated connection:
//
//	client, err := redis.New(cfg.Broker, cfg.Pool.Size, logger)
//	conn, err := client.Dial(ctx, notifier)
//	err = conn.PSubscribe(ctx, "grayrelay:*")
//
// # Flow control
//
// Each subscriber connection has a delivery window (option delivery_window,
// default 1). The receive goroutine stops reading once that many deliveries
// are unacknowledged, so a relay that never acks stalls its own connection
// and nothing else.
//
// # Reconnection
//
// A failed first dial is returned to the caller. Once a subscriber connection
// has been established it redials on its own every reconnect_interval after a
// link loss, restores its patterns and reports the outage through the
// broker.Notifier. A PING every health_check_interval turns a silently dead
// link into a receive timeout.
//
// # Options
//
//	database               Redis logical database (default 0)
//	client_name            CLIENT SETNAME value
//	delivery_window        unacked deliveries per connection (default 1)
//	reconnect_interval     redial interval after link loss (default 1s)
//	health_check_interval  PING interval, 0 disables (default 15s)
//	connect_timeout        dial timeout (default 5s)
//	tls                    use TLS (default false)
package redis
