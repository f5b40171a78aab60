package sockets

import (
	"github.com/rs/zerolog"

	"github.com/duova/EvolitsExtracts/internal/observability"
	"github.com/duova/EvolitsExtracts/internal/protocol/frame"
	"github.com/duova/EvolitsExtracts/internal/protocol/registry"
)

// MessageFunc receives one decoded message from a peer.
type MessageFunc func(addr string, msg any, kind registry.Kind)

// Dispatcher adapts raw connection data to typed messages: it decodes each
// received chunk through the frame codec and invokes the message callback
// per frame, in wire order. A decode failure aborts only that chunk and
// leaves the connection open; the bytes yield no messages.
//
// Dispatcher implements Events so it can be handed to NewServer directly;
// lifecycle events pass through to the optional next sink.
type Dispatcher struct {
	codec   *frame.Codec
	log     zerolog.Logger
	handler MessageFunc
	next    Events
}

// NewDispatcher builds a dispatcher. next may be nil.
func NewDispatcher(codec *frame.Codec, logger zerolog.Logger, handler MessageFunc, next Events) *Dispatcher {
	if next == nil {
		next = nopEvents{}
	}
	return &Dispatcher{codec: codec, log: logger, handler: handler, next: next}
}

func (d *Dispatcher) OnConnect(addr string) {
	d.next.OnConnect(addr)
}

func (d *Dispatcher) OnDisconnect(addr string, serverInitiated bool) {
	d.next.OnDisconnect(addr, serverInitiated)
}

func (d *Dispatcher) OnIncomingData(addr string, data []byte) {
	decoded, err := d.codec.Decode(data)
	if err != nil {
		observability.RecordFrameDecodeError()
		d.log.Warn().Err(err).Str("peer", addr).Int("bytes", len(data)).Msg("dropping undecodable chunk")
		d.next.OnIncomingData(addr, data)
		return
	}
	observability.RecordFramesDecoded(len(decoded))
	d.next.OnIncomingData(addr, data)
	if d.handler == nil {
		return
	}
	for _, dec := range decoded {
		d.handler(addr, dec.Message, dec.Kind)
	}
}
