package redis

import (
	"fmt"
	"strconv"
	"time"
)

// Option keys accepted in the broker options map.
const (
	OptionDatabase            = "database"
	OptionClientName          = "client_name"
	OptionDeliveryWindow      = "delivery_window"
	OptionReconnectInterval   = "reconnect_interval"
	OptionHealthCheckInterval = "health_check_interval"
	OptionConnectTimeout      = "connect_timeout"
	OptionTLS                 = "tls"
)

// Option defaults.
const (
	defaultDeliveryWindow      = 1
	defaultReconnectInterval   = time.Second
	defaultHealthCheckInterval = 15 * time.Second
	defaultConnectTimeout      = 5 * time.Second

	// maxIdlePublishConns is the number of idle publish connections kept in the pool.
	maxIdlePublishConns = 2

	// idleTimeout closes publish connections unused for this long.
	idleTimeout = 240 * time.Second
)

// Options are the parsed Redis-specific broker options.
type Options struct {
	Database            int
	ClientName          string
	DeliveryWindow      int
	ReconnectInterval   time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	TLS                 bool
}

// ParseOptions parses the pass-through options map. Unknown keys are ignored
// so that one options block can serve several broker kinds.
func ParseOptions(raw map[string]string) (Options, error) {
	opts := Options{
		DeliveryWindow:      defaultDeliveryWindow,
		ReconnectInterval:   defaultReconnectInterval,
		HealthCheckInterval: defaultHealthCheckInterval,
		ConnectTimeout:      defaultConnectTimeout,
	}

	var err error
	if v, ok := raw[OptionDatabase]; ok {
		if opts.Database, err = strconv.Atoi(v); err != nil || opts.Database < 0 {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionDatabase, v)
		}
	}
	if v, ok := raw[OptionClientName]; ok {
		opts.ClientName = v
	}
	if v, ok := raw[OptionDeliveryWindow]; ok {
		if opts.DeliveryWindow, err = strconv.Atoi(v); err != nil || opts.DeliveryWindow < 1 {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionDeliveryWindow, v)
		}
	}
	if v, ok := raw[OptionReconnectInterval]; ok {
		if opts.ReconnectInterval, err = time.ParseDuration(v); err != nil || opts.ReconnectInterval <= 0 {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionReconnectInterval, v)
		}
	}
	if v, ok := raw[OptionHealthCheckInterval]; ok {
		// Zero disables health checks.
		if opts.HealthCheckInterval, err = time.ParseDuration(v); err != nil || opts.HealthCheckInterval < 0 {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionHealthCheckInterval, v)
		}
	}
	if v, ok := raw[OptionConnectTimeout]; ok {
		if opts.ConnectTimeout, err = time.ParseDuration(v); err != nil || opts.ConnectTimeout <= 0 {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionConnectTimeout, v)
		}
	}
	if v, ok := raw[OptionTLS]; ok {
		if opts.TLS, err = strconv.ParseBool(v); err != nil {
			return Options{}, fmt.Errorf("%w: %s=%q", ErrInvalidOption, OptionTLS, v)
		}
	}

	return opts, nil
}
