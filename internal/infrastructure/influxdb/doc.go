// Package influxdb provides InfluxDB connectivity for the relay.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writing and health monitoring. EventSink turns
// the connection state changes of a relay node into connection_events
// points, giving a history of link losses and reconnect attempts.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	observer := pubsub.MultiObserver(metrics, influxdb.NewEventSink(client, "relay-1"))
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered to the
// SetOnError callback wrapped in ErrWriteFailed. Connection and health check
// errors are returned directly.
package influxdb
