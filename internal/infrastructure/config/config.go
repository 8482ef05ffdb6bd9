package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported broker kinds.
const (
	BrokerRedis  = "redis"
	BrokerMQTT   = "mqtt"
	BrokerMemory = "memory"
)

// Config is the root configuration structure for grayrelay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Broker     BrokerConfig     `yaml:"broker"`
	Connection ConnectionConfig `yaml:"connection"`
	Pool       PoolConfig       `yaml:"pool"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NodeConfig identifies this relay node.
type NodeConfig struct {
	// Name is the name the relay registers itself under so that other
	// components (HTTP API, WebSocket hub) can address it.
	Name string `yaml:"name"`
}

// BrokerConfig contains the shared broker connection settings.
type BrokerConfig struct {
	// Kind selects the broker client: "redis", "mqtt" or "memory".
	Kind     string `yaml:"kind"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`

	// Namespace is the channel prefix; broadcasts on topic T travel on
	// channel <namespace><sep>T and the node subscribes to <namespace><sep><wildcard>.
	Namespace string `yaml:"namespace"`

	// Options are broker-client-specific settings passed through unmodified.
	Options map[string]string `yaml:"options"`
}

// ConnectionConfig contains the initial-connection retry budget.
type ConnectionConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	RetryDelayMS int `yaml:"retry_delay_ms"`
}

// PoolConfig contains worker pool settings.
type PoolConfig struct {
	Size              int `yaml:"size"`
	CheckoutTimeoutMS int `yaml:"checkout_timeout_ms"`
}

// SupervisorConfig controls how the relay unit is restarted after a fatal exit.
type SupervisorConfig struct {
	RestartDelay       int `yaml:"restart_delay"`
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the connection-event sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DiscoveryConfig contains etcd node registration settings.
type DiscoveryConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Endpoints     []string `yaml:"endpoints"`
	TTL           int      `yaml:"ttl"`
	AdvertiseAddr string   `yaml:"advertise_addr"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYRELAY_SECTION_KEY
// For example: GRAYRELAY_BROKER_HOST, GRAYRELAY_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no configuration file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Name: "grayrelay",
		},
		Broker: BrokerConfig{
			Kind:      BrokerRedis,
			Host:      "127.0.0.1",
			Port:      6379,
			Password:  "",
			Namespace: "grayrelay",
		},
		Connection: ConnectionConfig{
			MaxAttempts:  3,
			RetryDelayMS: 5000,
		},
		Pool: PoolConfig{
			Size:              5,
			CheckoutTimeoutMS: 5000,
		},
		Supervisor: SupervisorConfig{
			RestartDelay:       5,
			MaxRestartAttempts: 0,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Discovery: DiscoveryConfig{
			TTL: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYRELAY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYRELAY_NODE_NAME"); v != "" {
		cfg.Node.Name = v
	}

	// Broker
	if v := os.Getenv("GRAYRELAY_BROKER_KIND"); v != "" {
		cfg.Broker.Kind = v
	}
	if v := os.Getenv("GRAYRELAY_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("GRAYRELAY_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYRELAY_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}

	// API
	if v := os.Getenv("GRAYRELAY_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYRELAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.Name == "" {
		errs = append(errs, "node.name is required")
	}

	switch c.Broker.Kind {
	case BrokerRedis, BrokerMQTT:
		if c.Broker.Host == "" {
			errs = append(errs, "broker.host is required")
		}
		if c.Broker.Port < 1 || c.Broker.Port > 65535 {
			errs = append(errs, "broker.port must be between 1 and 65535")
		}
	case BrokerMemory:
	default:
		errs = append(errs, fmt.Sprintf("broker.kind %q is not one of redis, mqtt, memory", c.Broker.Kind))
	}

	if c.Broker.Namespace == "" {
		errs = append(errs, "broker.namespace is required")
	} else if strings.ContainsAny(c.Broker.Namespace, "*#+:/") {
		errs = append(errs, "broker.namespace must not contain separators or wildcards")
	}

	if c.Connection.MaxAttempts < 1 {
		errs = append(errs, "connection.max_attempts must be at least 1")
	}
	if c.Connection.RetryDelayMS < 0 {
		errs = append(errs, "connection.retry_delay_ms must not be negative")
	}

	if c.Pool.Size < 1 {
		errs = append(errs, "pool.size must be at least 1")
	}
	if c.Pool.CheckoutTimeoutMS < 0 {
		errs = append(errs, "pool.checkout_timeout_ms must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Discovery.Enabled && len(c.Discovery.Endpoints) == 0 {
		errs = append(errs, "discovery.endpoints is required when discovery is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RetryDelay returns the delay between initial connection attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Connection.RetryDelayMS) * time.Millisecond
}

// CheckoutTimeout returns the maximum time to wait for a free pool worker.
func (c *Config) CheckoutTimeout() time.Duration {
	return time.Duration(c.Pool.CheckoutTimeoutMS) * time.Millisecond
}

// BrokerAddr returns the broker address in host:port form.
func (c *Config) BrokerAddr() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
