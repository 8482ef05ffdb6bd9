package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status represents the current state of a supervised unit.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Unit is one run of a supervised component. Run blocks until the unit
// stops: nil means a clean stop, an error means it failed.
type Unit interface {
	Run(ctx context.Context) error
}

// UnitFunc adapts a function to Unit.
type UnitFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f UnitFunc) Run(ctx context.Context) error { return f(ctx) }

// Factory builds a fresh Unit for every run.
type Factory func() (Unit, error)

// RecoverableError is implemented by unit errors that know whether a restart
// can help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err permits a restart. Errors that do not
// implement RecoverableError are treated as recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// ErrAlreadyRunning is returned by Start while the manager is active.
var ErrAlreadyRunning = errors.New("process: already running")

// Config holds configuration for a supervised unit.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Factory builds the unit before every run.
	Factory Factory

	// RestartOnFailure enables automatic restart when the unit fails.
	RestartOnFailure bool

	// RestartDelay is the time to wait before the first restart.
	RestartDelay time.Duration

	// MaxRestartDelay caps the doubling restart delay. Zero keeps the delay
	// at RestartDelay.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a unit must run before a failure stops
	// counting towards the backoff. Zero disables the reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits for the unit to return.
	GracefulTimeout time.Duration

	// OnStart is called each time a unit starts running.
	OnStart func()

	// OnStop is called when a unit returns, with its error.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string, factory Factory) Config {
	return Config{
		Name:             name,
		Factory:          factory,
		RestartOnFailure: true,
		RestartDelay:     5 * time.Second,
		GracefulTimeout:  10 * time.Second,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs a unit and restarts it after failures.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	cancel        context.CancelFunc

	done chan struct{}
}

// NewManager creates a new manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start builds the first unit and runs it under supervision. It returns an
// error if the factory fails; unit failures are handled by restarts.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.done = make(chan struct{})
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	unit, err := m.build()
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.cancel()
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx, unit)

	return nil
}

func (m *Manager) build() (Unit, error) {
	if m.config.Factory == nil {
		return nil, fmt.Errorf("building %s: no factory", m.config.Name)
	}
	unit, err := m.config.Factory()
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", m.config.Name, err)
	}
	return unit, nil
}

// runUnit runs one unit to completion.
func (m *Manager) runUnit(ctx context.Context, unit Unit) error {
	m.mu.Lock()
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("unit started", "name", m.config.Name)

	if m.config.OnStart != nil {
		m.config.OnStart()
	}

	return unit.Run(ctx)
}

// monitor runs units until one stops cleanly, a stop is requested or the
// restart budget is spent.
func (m *Manager) monitor(ctx context.Context, unit Unit) {
	defer close(m.done)

	for {
		err := m.runUnit(ctx, unit)

		m.mu.Lock()
		stopRequested := m.stopRequested
		ranFor := time.Since(m.startTime)
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if stopRequested || err == nil || ctx.Err() != nil {
			m.logger.Info("unit stopped", "name", m.config.Name, "error", err)
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			return
		}

		m.logger.Warn("unit exited unexpectedly",
			"name", m.config.Name,
			"error", err,
			"ran_for", ranFor,
		)

		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		if m.config.StableThreshold > 0 && ranFor >= m.config.StableThreshold {
			m.restartCount = 0
		}
		m.mu.Unlock()

		if !m.config.RestartOnFailure || !IsRecoverable(err) {
			m.logger.Info("restart disabled, not restarting", "name", m.config.Name)
			return
		}

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached",
				"name", m.config.Name,
				"attempts", attempt-1,
			)
			return
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting unit",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", delay,
		)

		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("context cancelled, not restarting", "name", m.config.Name)
				m.mu.Lock()
				m.status = StatusStopped
				m.mu.Unlock()
				return
			case <-time.After(delay):
			}

			next, err := m.build()
			if err == nil {
				unit = next
				break
			}

			m.logger.Error("failed to rebuild unit", "name", m.config.Name, "error", err)
			m.mu.Lock()
			m.lastError = err
			m.mu.Unlock()
		}
	}
}

// calculateBackoffDelay returns RestartDelay doubled per prior attempt,
// capped at MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	if m.config.MaxRestartDelay <= delay {
		return delay
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return delay
}

// Stop cancels the running unit and waits up to GracefulTimeout for it to
// return.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	m.logger.Info("stopping unit", "name", m.config.Name)
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		return fmt.Errorf("stopping %s: unit did not return within %v", m.config.Name, m.config.GracefulTimeout)
	}
}

// Done is closed once supervision has ended. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the supervised unit.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if a unit is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused a unit to fail.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of restarts since the last reset.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the current unit has been running.
// Returns 0 if no unit is running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// Stats returns statistics about the supervised unit.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the unit.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}

	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}
