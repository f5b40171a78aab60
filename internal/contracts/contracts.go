// Package contracts declares the built-in message contracts carried over the
// relay substrate. Applications declare additional modules and pass them to
// registry.Build alongside Module().
package contracts

import (
	"github.com/duova/EvolitsExtracts/internal/protocol/registry"
)

// EchoPing requests an echo from the relay.
type EchoPing struct {
	Seq      uint64 `cbor:"seq"`
	SentAtMS int64  `cbor:"sent_at_ms"`
}

// EchoPong answers one EchoPing with the relay's receive timestamp.
type EchoPong struct {
	Seq          uint64 `cbor:"seq"`
	SentAtMS     int64  `cbor:"sent_at_ms"`
	ReceivedAtMS int64  `cbor:"received_at_ms"`
}

// ChatPost is a broadcast text message addressed to a channel.
type ChatPost struct {
	Channel string `cbor:"channel"`
	Author  string `cbor:"author"`
	Body    string `cbor:"body"`
}

// Presence announces a peer coming online or going offline.
type Presence struct {
	Peer   string `cbor:"peer"`
	Online bool   `cbor:"online"`
}

// Module declares the built-in contracts. The returned module is fresh on
// every call; callers own it.
func Module() *registry.Module {
	return registry.NewModule("evolits.extracts.builtin").Declare(
		EchoPing{},
		EchoPong{},
		ChatPost{},
		Presence{},
	)
}
