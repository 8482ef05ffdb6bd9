package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/nerrad567/grayrelay/internal/broker"
	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
	"github.com/nerrad567/grayrelay/internal/infrastructure/logging"
)

// tlsMinVersion is the minimum TLS version for secure connections.
const tlsMinVersion = tls.VersionTLS12

// dialFunc opens one raw Redis connection.
type dialFunc func(ctx context.Context) (redigo.Conn, error)

// Client is a broker.Client backed by Redis pub/sub.
//
// Publishing uses a bounded connection pool. Each Dial opens a dedicated
// subscriber connection that, once established, reconnects on its own and
// reports link changes through its Notifier.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	addr   string
	opts   Options
	dial   dialFunc
	pool   *redigo.Pool
	logger *logging.Logger
}

// New creates a Redis client from the broker config. poolSize bounds the
// number of concurrent publish connections. No connection is made until the
// first Dial or Publish.
func New(cfg config.BrokerConfig, poolSize int, logger *logging.Logger) (*Client, error) {
	opts, err := ParseOptions(cfg.Options)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialOpts := []redigo.DialOption{
		redigo.DialConnectTimeout(opts.ConnectTimeout),
		redigo.DialDatabase(opts.Database),
	}
	if cfg.Password != "" {
		dialOpts = append(dialOpts, redigo.DialPassword(cfg.Password))
	}
	if opts.ClientName != "" {
		dialOpts = append(dialOpts, redigo.DialClientName(opts.ClientName))
	}
	if opts.TLS {
		dialOpts = append(dialOpts,
			redigo.DialUseTLS(true),
			redigo.DialTLSConfig(&tls.Config{MinVersion: tlsMinVersion, ServerName: cfg.Host}),
		)
	}

	dial := func(ctx context.Context) (redigo.Conn, error) {
		return redigo.DialContext(ctx, "tcp", addr, dialOpts...)
	}
	return newClient(addr, opts, poolSize, dial, logger), nil
}

func newClient(addr string, opts Options, poolSize int, dial dialFunc, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	if poolSize < 1 {
		poolSize = 1
	}

	return &Client{
		addr:   addr,
		opts:   opts,
		dial:   dial,
		logger: logger.With("component", "redis", "addr", addr),
		pool: &redigo.Pool{
			DialContext: func(ctx context.Context) (redigo.Conn, error) {
				return dial(ctx)
			},
			MaxIdle:     min(maxIdlePublishConns, poolSize),
			MaxActive:   poolSize,
			IdleTimeout: idleTimeout,
			Wait:        true,
			TestOnBorrow: func(c redigo.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
	}
}

// Scheme returns the Redis channel scheme.
func (c *Client) Scheme() broker.Scheme {
	return broker.RedisScheme
}

// Publish sends data on channel. It blocks while all publish connections are
// in use.
func (c *Client) Publish(ctx context.Context, channel string, data []byte) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("PUBLISH", channel, data)
	return err
}

// HealthCheck verifies the broker answers PING.
func (c *Client) HealthCheck(ctx context.Context) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// Dial opens a subscriber connection. A failed first dial is reported to
// the caller and not retried.
func (c *Client) Dial(ctx context.Context, n broker.Notifier) (broker.Conn, error) {
	rc, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.addr, err)
	}

	s := newSubConn(c, n, rc)
	go s.run()
	return s, nil
}

// Close releases the publish pool. Subscriber connections are closed by
// their owners.
func (c *Client) Close() error {
	return c.pool.Close()
}
