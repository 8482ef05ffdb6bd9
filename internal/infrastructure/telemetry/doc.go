// Package telemetry exposes relay metrics in Prometheus format.
//
// Metrics implements pubsub.Observer, so passing it as a server's observer
// is all the wiring the relay needs. HTTP handlers are wrapped with
// Instrument, and Handler serves the private registry on /metrics.
package telemetry
