// Package mqtt provides the MQTT broker backend for the relay.
//
// A Client satisfies broker.Client. Each Dial opens one paho connection
// that carries the relay's subscription and its publishes.
//
// # Connection Behaviour
//
//   - The first connect is attempted once; failures surface from Dial so the
//     relay's own retry bound applies
//   - After a successful connect paho reconnects on its own; the connection
//     reports Disconnected on loss and Connected once it is back and every
//     filter has been resubscribed
//   - Clean sessions: messages published while the link is down are lost
//
// # Flow Control
//
// Automatic acknowledgement is disabled. A received message is handed to
// the notifier as a broker.Delivery and only acknowledged to the broker when
// the delivery is acked. At most delivery_window deliveries are outstanding
// per connection.
//
// # Options
//
// Broker options are passed through the broker config's options map:
//
//	client_id               fixed client ID (default: grayrelay-<random>)
//	username                broker username; the password comes from the config
//	qos                     0, 1 or 2 (default 1)
//	tls                     use ssl:// with TLS 1.2+
//	delivery_window         outstanding deliveries (default 1)
//	connect_timeout         first connect bound (default 10s)
//	max_reconnect_interval  paho reconnect backoff cap (default 30s)
//
// # Usage
//
//	client, err := mqtt.New(cfg.Broker, logger)
//	if err != nil {
//	    return err
//	}
//	conn, err := client.Dial(ctx, notifier)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	err = conn.PSubscribe(ctx, client.Scheme().Pattern("grayrelay"))
package mqtt
