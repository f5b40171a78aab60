package sockets

// Events receives connection lifecycle and inbound data callbacks.
//
// OnConnect and OnIncomingData are invoked from the connection's receive
// goroutine, so per-connection callbacks arrive strictly in stream order.
// There is no ordering across connections. OnDisconnect is not fired for
// connections torn down by a server-wide Stop; shutdown is silent at the
// per-connection level.
//
// When a peer address is re-used, the superseded session's OnDisconnect may
// arrive after the replacement's OnConnect for the same address. Sinks that
// key live state by address must tolerate that ordering.
type Events interface {
	OnConnect(addr string)
	OnDisconnect(addr string, serverInitiated bool)
	OnIncomingData(addr string, data []byte)
}

// EventFuncs adapts plain functions to the Events interface. Nil fields are
// ignored.
type EventFuncs struct {
	Connect      func(addr string)
	Disconnect   func(addr string, serverInitiated bool)
	IncomingData func(addr string, data []byte)
}

func (e EventFuncs) OnConnect(addr string) {
	if e.Connect != nil {
		e.Connect(addr)
	}
}

func (e EventFuncs) OnDisconnect(addr string, serverInitiated bool) {
	if e.Disconnect != nil {
		e.Disconnect(addr, serverInitiated)
	}
}

func (e EventFuncs) OnIncomingData(addr string, data []byte) {
	if e.IncomingData != nil {
		e.IncomingData(addr, data)
	}
}

type nopEvents struct{}

func (nopEvents) OnConnect(string)              {}
func (nopEvents) OnDisconnect(string, bool)     {}
func (nopEvents) OnIncomingData(string, []byte) {}
