package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// =============================================================================
// Retry Tests
// =============================================================================

func TestRun_RetryBoundThenFatal(t *testing.T) {
	clk := clock.NewMock()
	client := &fakeClient{failDials: -1}

	s, errc := startServer(t, Options{
		Broker:      client,
		Clock:       clk,
		MaxAttempts: 3,
		RetryDelay:  testRetryDelay,
	})

	for attempt := 1; attempt <= 3; attempt++ {
		waitFor(t, "failed attempt", func() bool { return s.State().ReconnectAttempts == attempt })
		if got := client.dialCount(); got != attempt {
			t.Fatalf("dials = %d after attempt %d", got, attempt)
		}

		// Nothing happens before the full delay has elapsed.
		clk.Add(testRetryDelay - time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		if got := client.dialCount(); got != attempt {
			t.Fatalf("dials = %d before retry delay elapsed, want %d", got, attempt)
		}
		clk.Add(time.Millisecond)
	}

	if err := waitErr(t, errc); !errors.Is(err, ErrExceededMaxConnAttempts) {
		t.Fatalf("Run() error = %v, want ErrExceededMaxConnAttempts", err)
	}
	if got := client.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	if got := s.State().Status; got != StatusTerminated {
		t.Errorf("status = %v, want terminated", got)
	}
}

func TestRun_FatalErrorString(t *testing.T) {
	if ErrExceededMaxConnAttempts.Error() != "exceeded_max_conn_attempts" {
		t.Errorf("error string = %q", ErrExceededMaxConnAttempts.Error())
	}
}

func TestRun_ResetOnFirstSuccess(t *testing.T) {
	clk := clock.NewMock()
	client := &fakeClient{failDials: 2}

	s, _ := startServer(t, Options{Broker: client, Clock: clk, RetryDelay: testRetryDelay})

	waitFor(t, "first failure", func() bool { return s.State().ReconnectAttempts == 1 })
	clk.Add(testRetryDelay)
	waitFor(t, "second failure", func() bool { return s.State().ReconnectAttempts == 2 })
	clk.Add(testRetryDelay)
	waitFor(t, "connected", s.IsConnected)

	if got := s.State().ReconnectAttempts; got != 0 {
		t.Fatalf("attempts after success = %d, want 0", got)
	}

	conn, n := client.lastConn()
	if len(conn.patterns) != 1 || conn.patterns[0] != "grayrelay:*" {
		t.Errorf("subscribed patterns = %v, want [grayrelay:*]", conn.patterns)
	}

	// A post-initial blip is left to the broker client.
	n.Disconnected(conn, errors.New("read: connection reset"))
	waitFor(t, "disconnected", func() bool { return !s.IsConnected() })
	n.Connected(conn)
	waitFor(t, "reconnected", s.IsConnected)

	if got := s.State().ReconnectAttempts; got != 0 {
		t.Errorf("attempts after link blip = %d, want 0", got)
	}
	if got := client.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3 (no redial on blip)", got)
	}
}

func TestLinkUp_KeepsAttempts(t *testing.T) {
	st := State{Status: StatusDisconnected, ReconnectAttempts: 2, NodeID: "n"}

	up := st.linkUp()
	if up.Status != StatusConnected || up.ReconnectAttempts != 2 {
		t.Errorf("linkUp() = %+v, want connected with 2 attempts", up)
	}
	if st.Status != StatusDisconnected {
		t.Error("linkUp() modified the original state")
	}
}

func TestRun_StaleTimerIgnored(t *testing.T) {
	client := &fakeClient{}
	s, _ := startServer(t, Options{Broker: client, Clock: clock.NewMock()})

	waitFor(t, "connected", s.IsConnected)
	before := s.State()

	if err := s.post(context.Background(), connectTimer{}); err != nil {
		t.Fatalf("post() error = %v", err)
	}
	// A broadcast round trip guarantees the timer event was handled.
	if err := s.Broadcast(context.Background(), "", "t", []byte("x")); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	if got := s.State(); got != before {
		t.Errorf("state changed on stale timer: %+v -> %+v", before, got)
	}
	if got := client.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestRun_TimerWhileLinkDownIgnored(t *testing.T) {
	client := &fakeClient{}
	s, _ := startServer(t, Options{Broker: client, Clock: clock.NewMock()})
	waitFor(t, "connected", s.IsConnected)

	conn, n := client.lastConn()
	n.Disconnected(conn, errors.New("eof"))
	waitFor(t, "disconnected", func() bool { return !s.IsConnected() })

	s.post(context.Background(), connectTimer{})
	// Fails fast with no connection, after the timer was handled.
	if err := s.Broadcast(context.Background(), "", "t", nil); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("Broadcast() error = %v, want ErrNoConnection", err)
	}
	if got := client.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestRun_StaleSignalsAbsorbed(t *testing.T) {
	client := &fakeClient{}
	s, _ := startServer(t, Options{Broker: client, Clock: clock.NewMock()})
	waitFor(t, "connected", s.IsConnected)

	_, n := client.lastConn()
	other := &fakeConn{}
	n.Disconnected(other, errDialRefused)
	n.Disconnected(nil, errDialRefused)

	if err := s.Broadcast(context.Background(), "", "t", nil); err != nil {
		t.Fatalf("Broadcast() error = %v, want nil (stale signals ignored)", err)
	}
	if !s.IsConnected() {
		t.Error("stale disconnect changed state")
	}
}

func TestRun_SubscribeFailureCountsAsAttempt(t *testing.T) {
	clk := clock.NewMock()
	client := &fakeClient{subErr: errors.New("ERR psubscribe")}
	s, _ := startServer(t, Options{Broker: client, Clock: clk})

	waitFor(t, "failed attempt", func() bool { return s.State().ReconnectAttempts == 1 })

	conn, _ := client.lastConn()
	if conn.closeCount() != 1 {
		t.Errorf("connection closed %d times, want 1", conn.closeCount())
	}
	if s.IsConnected() {
		t.Error("server connected without a subscription")
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestShutdown_ClosesHandle(t *testing.T) {
	client := &fakeClient{}
	s, errc := startServer(t, Options{Broker: client, Clock: clock.NewMock()})
	waitFor(t, "connected", s.IsConnected)

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := waitErr(t, errc); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}

	conn, _ := client.lastConn()
	if conn.closeCount() != 1 {
		t.Errorf("handle closed %d times, want 1", conn.closeCount())
	}
	if got := s.State().Status; got != StatusTerminated {
		t.Errorf("status = %v, want terminated", got)
	}
}

func TestShutdown_WhileNeverConnected(t *testing.T) {
	client := &fakeClient{failDials: -1}
	s, errc := startServer(t, Options{Broker: client, Clock: clock.NewMock()})
	waitFor(t, "failed attempt", func() bool { return s.State().ReconnectAttempts == 1 })

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := waitErr(t, errc); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	s, err := New(Options{Broker: &fakeClient{}, Local: nil})
	if err == nil || !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("New() without registry error = %v, want ErrInvalidOptions", err)
	}

	s, _ = New(Options{Broker: &fakeClient{}, Local: newStubRegistry(), Clock: clock.NewMock()})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitFor(t, "connected", s.IsConnected)
	cancel()

	if err := waitErr(t, errc); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
	if err := s.Broadcast(context.Background(), "", "t", nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Broadcast() after stop error = %v, want ErrStopped", err)
	}
}

func TestRun_FreshNodeIDPerServer(t *testing.T) {
	a, _ := New(Options{Broker: &fakeClient{}, Local: newStubRegistry()})
	b, _ := New(Options{Broker: &fakeClient{}, Local: newStubRegistry()})

	if a.NodeID() == "" || a.NodeID() == b.NodeID() {
		t.Errorf("node IDs %q and %q should be distinct and non-empty", a.NodeID(), b.NodeID())
	}
	if a.State().ReconnectAttempts != 0 || a.State().Status != StatusDisconnected {
		t.Errorf("initial state = %+v", a.State())
	}
}
