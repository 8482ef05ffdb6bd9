// Package broker defines the contract between the relay and a shared message
// broker, plus an in-process broker used for development and tests.
//
// A backend provides three things: subscriber connections (Dialer/Conn), a
// concurrency-safe Publisher and the Scheme it uses to spell channel names.
// Subscriber connections report link changes and pushed messages through a
// Notifier. Every pushed Delivery, including the confirmation that follows a
// pattern subscription, must be acknowledged so that the connection keeps
// delivering.
//
// Backends:
//   - internal/infrastructure/redis: PSUBSCRIBE/PUBLISH on Redis
//   - internal/infrastructure/mqtt: wildcard subscriptions on an MQTT broker
//   - Memory (this package): process-local, for tests and single-node runs
package broker
