package mqtt

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultMaxReconnectInterval caps paho's reconnect backoff.
	defaultMaxReconnectInterval = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Option keys accepted in the broker options map.
const (
	OptionClientID             = "client_id"
	OptionUsername             = "username"
	OptionQoS                  = "qos"
	OptionTLS                  = "tls"
	OptionDeliveryWindow       = "delivery_window"
	OptionConnectTimeout       = "connect_timeout"
	OptionMaxReconnectInterval = "max_reconnect_interval"
)

// Options are the parsed MQTT-specific broker options.
type Options struct {
	ClientID             string
	Username             string
	QoS                  byte
	TLS                  bool
	DeliveryWindow       int
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

// ParseOptions parses the pass-through options map. Unknown keys are ignored.
func ParseOptions(raw map[string]string) (Options, error) {
	opts := Options{
		QoS:                  1,
		DeliveryWindow:       1,
		ConnectTimeout:       defaultConnectTimeout,
		MaxReconnectInterval: defaultMaxReconnectInterval,
	}

	if v, ok := raw[OptionClientID]; ok {
		opts.ClientID = v
	}
	if v, ok := raw[OptionUsername]; ok {
		opts.Username = v
	}
	if v, ok := raw[OptionQoS]; ok {
		qos, err := strconv.Atoi(v)
		if err != nil || qos < 0 || qos > maxQoS {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidQoS, OptionQoS, v)
		}
		opts.QoS = byte(qos)
	}
	if v, ok := raw[OptionTLS]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionTLS, v)
		}
		opts.TLS = b
	}
	if v, ok := raw[OptionDeliveryWindow]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionDeliveryWindow, v)
		}
		opts.DeliveryWindow = n
	}
	if v, ok := raw[OptionConnectTimeout]; ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionConnectTimeout, v)
		}
		opts.ConnectTimeout = d
	}
	if v, ok := raw[OptionMaxReconnectInterval]; ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionMaxReconnectInterval, v)
		}
		opts.MaxReconnectInterval = d
	}

	return opts, nil
}

// buildClientOptions creates paho MQTT options for one relay connection.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect after the first successful connect only
//   - Manual acknowledgement of received messages
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.BrokerConfig, opts Options, clientID string) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if opts.TLS {
		scheme = "ssl"
	}
	po.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))

	po.SetClientID(clientID)

	// Credentials are passed through as configured.
	if opts.Username != "" || cfg.Password != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(cfg.Password)
	}

	// Clean session - subscriptions are restored by the connection itself
	po.SetCleanSession(true)

	// A failed first connect is reported, not retried. Later link losses
	// are recovered by paho.
	po.SetConnectRetry(false)
	po.SetAutoReconnect(true)
	po.SetMaxReconnectInterval(opts.MaxReconnectInterval)

	// Messages are acknowledged when the relay acks the delivery.
	po.SetAutoAckDisabled(true)
	po.SetOrderMatters(true)

	po.SetConnectTimeout(opts.ConnectTimeout)
	po.SetKeepAlive(defaultKeepAlive)

	if opts.TLS {
		po.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: cfg.Host,
		})
	}

	return po
}
