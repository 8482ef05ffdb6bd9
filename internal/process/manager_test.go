package process

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedFactory returns units that fail with errs in order, then block
// until cancelled.
type scriptedFactory struct {
	mu     sync.Mutex
	errs   []error
	builds atomic.Int32
}

func (f *scriptedFactory) build() (Unit, error) {
	f.builds.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.errs) == 0 {
		return UnitFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}), nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return UnitFunc(func(context.Context) error { return err }), nil
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Status() = %q, want %q", m.Status(), want)
}

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervision did not end")
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "relay"})

	if m.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 5*time.Second)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
}

func TestDefaultConfig_Function(t *testing.T) {
	cfg := DefaultConfig("relay", nil)

	if cfg.Name != "relay" {
		t.Errorf("Name = %q, want %q", cfg.Name, "relay")
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 0 {
		t.Errorf("MaxRestartAttempts = %d, want 0 (unlimited)", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "relay"})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.RestartCount() != 0 || m.Uptime() != 0 || m.LastError() != nil {
		t.Errorf("initial counters = %d, %v, %v", m.RestartCount(), m.Uptime(), m.LastError())
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v, want nil", err)
	}

	stats := m.Stats()
	if stats.Name != "relay" || stats.Status != StatusStopped || stats.LastError != "" {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	f := &scriptedFactory{}
	started := make(chan struct{}, 1)
	m := NewManager(Config{
		Name:    "relay",
		Factory: f.build,
		OnStart: func() { started <- struct{}{} },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	<-started
	waitStatus(t, m, StatusRunning)

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q after Stop, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_FactoryError(t *testing.T) {
	wantErr := errors.New("bad broker kind")
	m := NewManager(Config{
		Name:    "relay",
		Factory: func() (Unit, error) { return nil, wantErr },
	})

	if err := m.Start(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Start() error = %v, want %v", err, wantErr)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_RestartsFailedUnit(t *testing.T) {
	fatal := errors.New("exceeded_max_conn_attempts")
	f := &scriptedFactory{errs: []error{fatal, fatal}}

	var restarts []int
	var mu sync.Mutex
	m := NewManager(Config{
		Name:             "relay",
		Factory:          f.build,
		RestartOnFailure: true,
		RestartDelay:     time.Millisecond,
		OnRestart: func(attempt int) {
			mu.Lock()
			restarts = append(restarts, attempt)
			mu.Unlock()
		},
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	waitStatus(t, m, StatusRunning)
	for f.builds.Load() < 3 {
		time.Sleep(time.Millisecond)
	}
	waitStatus(t, m, StatusRunning)

	if m.RestartCount() != 2 {
		t.Errorf("RestartCount() = %d, want 2", m.RestartCount())
	}
	if !errors.Is(m.LastError(), fatal) {
		t.Errorf("LastError() = %v, want %v", m.LastError(), fatal)
	}
	mu.Lock()
	if len(restarts) != 2 || restarts[0] != 1 || restarts[1] != 2 {
		t.Errorf("OnRestart attempts = %v, want [1 2]", restarts)
	}
	mu.Unlock()
}

func TestManager_MaxRestartAttempts(t *testing.T) {
	fatal := errors.New("link lost")
	f := &scriptedFactory{errs: []error{fatal, fatal, fatal, fatal}}
	m := NewManager(Config{
		Name:               "relay",
		Factory:            f.build,
		RestartOnFailure:   true,
		RestartDelay:       time.Millisecond,
		MaxRestartAttempts: 2,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, m)

	if got := f.builds.Load(); got != 3 {
		t.Errorf("units built = %d, want 3 (first run plus 2 restarts)", got)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_NoRestartWhenDisabled(t *testing.T) {
	f := &scriptedFactory{errs: []error{errors.New("boom")}}
	m := NewManager(Config{Name: "relay", Factory: f.build})

	m.Start(context.Background())
	waitDone(t, m)

	if f.builds.Load() != 1 {
		t.Errorf("units built = %d, want 1", f.builds.Load())
	}
}

func TestManager_CleanExitIsNotRestarted(t *testing.T) {
	var builds atomic.Int32
	m := NewManager(Config{
		Name: "relay",
		Factory: func() (Unit, error) {
			builds.Add(1)
			return UnitFunc(func(context.Context) error { return nil }), nil
		},
		RestartOnFailure: true,
		RestartDelay:     time.Millisecond,
	})

	m.Start(context.Background())
	waitDone(t, m)

	if builds.Load() != 1 || m.Status() != StatusStopped {
		t.Errorf("builds = %d, status = %q, want 1, stopped", builds.Load(), m.Status())
	}
}

func TestManager_ParentContextCancel(t *testing.T) {
	m := NewManager(Config{Name: "relay", Factory: (&scriptedFactory{}).build})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	waitStatus(t, m, StatusRunning)

	cancel()
	waitDone(t, m)

	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	m := NewManager(Config{
		Name: "relay",
		Factory: func() (Unit, error) {
			return UnitFunc(func(context.Context) error {
				<-release
				return nil
			}), nil
		},
		GracefulTimeout: 20 * time.Millisecond,
	})

	m.Start(context.Background())
	waitStatus(t, m, StatusRunning)

	if err := m.Stop(); err == nil {
		t.Error("Stop() on a unit ignoring cancellation should time out")
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "relay",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := m.calculateBackoffDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	fixed := NewManager(Config{Name: "relay", RestartDelay: 5 * time.Second})
	if got := fixed.calculateBackoffDelay(4); got != 5*time.Second {
		t.Errorf("without MaxRestartDelay delay = %v, want constant 5s", got)
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(nil) {
		t.Error("IsRecoverable(nil) = false, want true")
	}
	if !IsRecoverable(context.DeadlineExceeded) {
		t.Error("plain error should be recoverable by default")
	}
	if !IsRecoverable(&testRecoverableError{recoverable: true}) {
		t.Error("recoverable error should return true")
	}
	if IsRecoverable(&testRecoverableError{recoverable: false}) {
		t.Error("non-recoverable error should return false")
	}
}

func TestManager_NonRecoverableStops(t *testing.T) {
	f := &scriptedFactory{errs: []error{&testRecoverableError{recoverable: false}}}
	m := NewManager(Config{
		Name:             "relay",
		Factory:          f.build,
		RestartOnFailure: true,
		RestartDelay:     time.Millisecond,
	})

	m.Start(context.Background())
	waitDone(t, m)

	if f.builds.Load() != 1 {
		t.Errorf("units built = %d, want 1", f.builds.Load())
	}
}

// testRecoverableError implements RecoverableError for testing.
type testRecoverableError struct {
	recoverable bool
}

func (e *testRecoverableError) Error() string       { return "test error" }
func (e *testRecoverableError) IsRecoverable() bool { return e.recoverable }
