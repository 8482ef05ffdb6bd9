// grayrelay - cluster broadcast relay
//
// Every node subscribes to one pattern on a shared broker, publishes local
// broadcasts as envelopes on it, and fans inbound envelopes out to its
// local subscribers. Supported brokers are Redis, MQTT and an in-process
// broker for development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nerrad567/grayrelay/internal/api"
	"github.com/nerrad567/grayrelay/internal/broker"
	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
	"github.com/nerrad567/grayrelay/internal/infrastructure/discovery"
	"github.com/nerrad567/grayrelay/internal/infrastructure/influxdb"
	"github.com/nerrad567/grayrelay/internal/infrastructure/logging"
	"github.com/nerrad567/grayrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/grayrelay/internal/infrastructure/redis"
	"github.com/nerrad567/grayrelay/internal/infrastructure/telemetry"
	"github.com/nerrad567/grayrelay/internal/process"
	"github.com/nerrad567/grayrelay/internal/pubsub"
	"github.com/nerrad567/grayrelay/internal/registry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// memoryWindow is the delivery window of the in-process broker.
const memoryWindow = 1

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting grayrelay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Sync() //nolint:errcheck // Sync on stdout fails on some platforms
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	client, err := newBrokerClient(cfg, log)
	if err != nil {
		return fmt.Errorf("creating broker client: %w", err)
	}
	defer func() {
		log.Info("closing broker client")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing broker client", "error", closeErr)
		}
	}()
	log.Info("broker client ready", "kind", cfg.Broker.Kind, "namespace", cfg.Broker.Namespace)

	local := registry.New()
	directory := pubsub.NewDirectory()

	metrics := telemetry.New()
	metrics.SetBuildInfo(version)
	observers := []pubsub.Observer{metrics}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, influxdb.NewEventSink(influxClient, cfg.Node.Name))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Register in etcd (optional)
	var nodes *discovery.Registry
	if cfg.Discovery.Enabled {
		etcd, etcdErr := discovery.NewClient(cfg.Discovery)
		if etcdErr != nil {
			return fmt.Errorf("connecting to etcd: %w", etcdErr)
		}
		defer func() {
			log.Info("closing etcd client")
			if closeErr := etcd.Close(); closeErr != nil {
				log.Error("error closing etcd client", "error", closeErr)
			}
		}()
		nodes = discovery.NewRegistry(etcd, cfg.Broker.Namespace, cfg.Discovery.TTL, log)
		log.Info("discovery enabled", "endpoints", cfg.Discovery.Endpoints)
	}

	observer := pubsub.MultiObserver(observers...)
	advertise := advertiseAddr(cfg)

	supervisor := process.NewManager(process.Config{
		Name: cfg.Node.Name,
		Factory: func() (process.Unit, error) {
			return newRelayUnit(cfg, client, local, directory, observer, nodes, advertise, log)
		},
		RestartOnFailure:   true,
		RestartDelay:       time.Duration(cfg.Supervisor.RestartDelay) * time.Second,
		MaxRestartDelay:    time.Minute,
		StableThreshold:    time.Minute,
		MaxRestartAttempts: cfg.Supervisor.MaxRestartAttempts,
		GracefulTimeout:    10 * time.Second,
		OnRestart: func(attempt int) {
			log.Warn("restarting relay", "attempt", attempt)
		},
	})
	supervisor.SetLogger(log)

	if startErr := supervisor.Start(ctx); startErr != nil {
		return fmt.Errorf("starting relay: %w", startErr)
	}
	defer func() {
		log.Info("stopping relay")
		if stopErr := supervisor.Stop(); stopErr != nil {
			log.Error("error stopping relay", "error", stopErr)
		}
	}()

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Directory: directory,
		NodeName:  cfg.Node.Name,
		Metrics:   metrics,
		Stats:     supervisor,
		Version:   version,
	}
	if nodes != nil {
		deps.Nodes = nodes
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, client, influxClient); err != nil {
		log.Warn("startup health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"node", cfg.Node.Name,
		"api", apiServer.Addr(),
	)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-supervisor.Done():
		if ctx.Err() == nil {
			return fmt.Errorf("relay gave up: %w", supervisor.LastError())
		}
		log.Info("shutdown signal received, cleaning up")
	}

	log.Info("grayrelay stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYRELAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYRELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads path, falling back to built-in defaults when the default
// file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
	}
	return config.Load(path)
}

// newBrokerClient builds the client for the configured broker kind.
func newBrokerClient(cfg *config.Config, log *logging.Logger) (broker.Client, error) {
	switch cfg.Broker.Kind {
	case config.BrokerRedis:
		return redis.New(cfg.Broker, cfg.Pool.Size, log.With("broker", "redis"))
	case config.BrokerMQTT:
		return mqtt.New(cfg.Broker, log.With("broker", "mqtt"))
	case config.BrokerMemory:
		return broker.NewMemory(memoryWindow), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

// advertiseAddr returns the API address published in discovery.
func advertiseAddr(cfg *config.Config) string {
	if cfg.Discovery.AdvertiseAddr != "" {
		return cfg.Discovery.AdvertiseAddr
	}
	return net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
}

// relayUnit is one supervised run of a relay server.
type relayUnit struct {
	srv       *pubsub.Server
	nodes     *discovery.Registry
	advertise string
	log       *logging.Logger
}

// newRelayUnit builds a fresh relay, with a fresh node ID, over the shared
// broker client and local registry.
func newRelayUnit(
	cfg *config.Config,
	client broker.Client,
	local *registry.Registry,
	directory *pubsub.Directory,
	observer pubsub.Observer,
	nodes *discovery.Registry,
	advertise string,
	log *logging.Logger,
) (process.Unit, error) {
	srv, err := pubsub.New(pubsub.Options{
		Name:            cfg.Node.Name,
		Namespace:       cfg.Broker.Namespace,
		Broker:          client,
		Local:           local,
		PoolSize:        cfg.Pool.Size,
		CheckoutTimeout: cfg.CheckoutTimeout(),
		MaxAttempts:     cfg.Connection.MaxAttempts,
		RetryDelay:      cfg.RetryDelay(),
		Logger:          log,
		Observer:        observer,
		Directory:       directory,
	})
	if err != nil {
		return nil, err
	}
	return &relayUnit{srv: srv, nodes: nodes, advertise: advertise, log: log}, nil
}

// Run registers the node in discovery, when enabled, for as long as the
// relay runs.
func (u *relayUnit) Run(ctx context.Context) error {
	if u.nodes != nil {
		reg, err := u.nodes.RegisterNode(ctx, u.srv.Name(), u.srv.NodeID(), u.advertise)
		if err != nil {
			u.log.Warn("node registration failed", "node_id", u.srv.NodeID(), "error", err)
		} else {
			defer func() {
				if closeErr := reg.Close(); closeErr != nil {
					u.log.Warn("node deregistration failed", "error", closeErr)
				}
			}()
		}
	}
	return u.srv.Run(ctx)
}

// healthChecker is implemented by broker clients that can probe the broker.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies the broker and, when enabled, InfluxDB are reachable.
func healthCheck(ctx context.Context, client broker.Client, influxClient *influxdb.Client) error {
	if hc, ok := client.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
