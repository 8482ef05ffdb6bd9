// Package api implements the HTTP REST API and WebSocket server of a relay node.
//
// This package provides:
//   - REST endpoints to inspect local topics and subscribers and to
//     broadcast to a topic across the cluster
//   - WebSocket clients that subscribe to topics and receive relayed
//     broadcasts as events
//   - A node list backed by discovery, when enabled
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus metrics on /metrics, when telemetry is configured
//
// # Architecture
//
// Handlers never hold the relay itself. They look it up by node name in the
// pubsub.Directory on every request, so a relay restarted by its supervisor
// is picked up without re-wiring, and requests arriving while no relay is
// running get 503 relay_unavailable.
//
// # Status Codes
//
//	202  broadcast accepted by the broker
//	400  invalid topic or body
//	502  broker publish failed
//	503  no_connection (link down) or relay_unavailable
//	504  no pool worker became free in time
package api
