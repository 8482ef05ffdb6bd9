package pubsub

import "github.com/nerrad567/grayrelay/internal/broker"

// Broadcast results reported to Observer.BroadcastDone.
const (
	ResultOK             = "ok"
	ResultNoConnection   = "no_connection"
	ResultPoolError      = "pool_error"
	ResultTransportError = "transport_error"
)

// Inbound origins reported to Observer.Inbound.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
	OriginBroker = "broker"
)

// Observer is told about everything a server does. Implementations must be
// cheap and must not call back into the server.
type Observer interface {
	StateChanged(prev, next State)
	BroadcastDone(result string)
	Inbound(kind broker.Kind, origin string)
	Acked()
	DecodeFailed()
	FanoutFailed()
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) StateChanged(State, State)   {}
func (NopObserver) BroadcastDone(string)        {}
func (NopObserver) Inbound(broker.Kind, string) {}
func (NopObserver) Acked()                      {}
func (NopObserver) DecodeFailed()               {}
func (NopObserver) FanoutFailed()               {}

// MultiObserver fans every notification out to each of observers in order.
func MultiObserver(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) StateChanged(prev, next State) {
	for _, o := range m {
		o.StateChanged(prev, next)
	}
}

func (m multiObserver) BroadcastDone(result string) {
	for _, o := range m {
		o.BroadcastDone(result)
	}
}

func (m multiObserver) Inbound(kind broker.Kind, origin string) {
	for _, o := range m {
		o.Inbound(kind, origin)
	}
}

func (m multiObserver) Acked() {
	for _, o := range m {
		o.Acked()
	}
}

func (m multiObserver) DecodeFailed() {
	for _, o := range m {
		o.DecodeFailed()
	}
}

func (m multiObserver) FanoutFailed() {
	for _, o := range m {
		o.FanoutFailed()
	}
}
