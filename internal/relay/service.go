// Package relay implements the application-layer behavior of the relay
// daemon on top of the sockets substrate: echo replies for pings and
// fan-out of broadcast contracts to every other connected peer.
package relay

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/duova/EvolitsExtracts/internal/contracts"
	"github.com/duova/EvolitsExtracts/internal/protocol/frame"
	"github.com/duova/EvolitsExtracts/internal/protocol/registry"
	"github.com/duova/EvolitsExtracts/internal/sockets"
)

// Sender is the slice of the connection manager the service needs.
type Sender interface {
	Send(addr string, data []byte) bool
	Addresses() []string
}

// Service routes decoded messages between connected peers.
type Service struct {
	codec  *frame.Codec
	log    zerolog.Logger
	sender Sender
}

func NewService(codec *frame.Codec, logger zerolog.Logger) *Service {
	return &Service{codec: codec, log: logger}
}

// Bind attaches the connection manager. Must be called before Start on the
// server delivers any traffic.
func (s *Service) Bind(sender Sender) {
	s.sender = sender
}

// Events returns the sink to hand to sockets.NewServer.
func (s *Service) Events() sockets.Events {
	return sockets.NewDispatcher(s.codec, s.log, s.handle, sockets.EventFuncs{
		Connect: func(addr string) {
			s.log.Info().Str("peer", addr).Msg("peer connected")
		},
		Disconnect: func(addr string, serverInitiated bool) {
			s.log.Info().Str("peer", addr).Bool("server_initiated", serverInitiated).Msg("peer disconnected")
		},
	})
}

func (s *Service) handle(addr string, msg any, kind registry.Kind) {
	switch m := msg.(type) {
	case *contracts.EchoPing:
		s.reply(addr, &contracts.EchoPong{
			Seq:          m.Seq,
			SentAtMS:     m.SentAtMS,
			ReceivedAtMS: time.Now().UnixMilli(),
		})
	case *contracts.ChatPost, *contracts.Presence:
		s.broadcast(addr, m)
	default:
		s.log.Debug().Str("peer", addr).Str("kind", kind.QualifiedName()).Msg("unrouted message")
	}
}

func (s *Service) reply(addr string, msg any) {
	data, err := s.codec.Encode(msg)
	if err != nil {
		s.log.Error().Err(err).Str("peer", addr).Msg("encode reply")
		return
	}
	if !s.sender.Send(addr, data) {
		s.log.Debug().Str("peer", addr).Msg("peer gone before reply")
	}
}

// broadcast relays one message to every connected peer except the origin.
func (s *Service) broadcast(origin string, msg any) {
	data, err := s.codec.Encode(msg)
	if err != nil {
		s.log.Error().Err(err).Str("peer", origin).Msg("encode broadcast")
		return
	}
	for _, addr := range s.sender.Addresses() {
		if addr == origin {
			continue
		}
		s.sender.Send(addr, data)
	}
}
