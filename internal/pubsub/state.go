package pubsub

import "github.com/nerrad567/grayrelay/internal/broker"

// Status is the broker link status of a server.
type Status int

const (
	// StatusDisconnected is the initial status, and the status while the link is down.
	StatusDisconnected Status = iota
	// StatusConnected permits publishing.
	StatusConnected
	// StatusTerminated is final; the server has stopped.
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// State is a snapshot of the connection state. Values are never modified in
// place; each transition produces a new State.
type State struct {
	Status            Status `json:"status"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	NodeID            string `json:"node_id"`

	handle broker.Conn
}

func initialState(nodeID string) State {
	return State{Status: StatusDisconnected, NodeID: nodeID}
}

// Connected reports whether publishing is permitted.
func (s State) Connected() bool {
	return s.Status == StatusConnected
}

// connected is the result of a successful connect attempt.
func (s State) connected(h broker.Conn) State {
	return State{Status: StatusConnected, NodeID: s.NodeID, handle: h}
}

// failed is the result of an unsuccessful connect attempt.
func (s State) failed() State {
	return State{
		Status:            StatusDisconnected,
		ReconnectAttempts: s.ReconnectAttempts + 1,
		NodeID:            s.NodeID,
	}
}

// linkUp is the result of the broker client restoring the link on its own.
// The attempt counter is left alone.
func (s State) linkUp() State {
	next := s
	next.Status = StatusConnected
	return next
}

// linkDown keeps the handle: the broker client is still reconnecting it.
func (s State) linkDown() State {
	next := s
	next.Status = StatusDisconnected
	return next
}

func (s State) terminated() State {
	return State{
		Status:            StatusTerminated,
		ReconnectAttempts: s.ReconnectAttempts,
		NodeID:            s.NodeID,
	}
}
