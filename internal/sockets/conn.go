package sockets

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/duova/EvolitsExtracts/internal/observability"
)

// Connection lifecycle. Closed is terminal; a peerConn is never reused.
type connState int32

const (
	stateAccepted connState = iota
	stateOpen
	stateClosing
	stateClosed
)

const (
	// Close reasons sent in the graceful close handshake.
	reasonServerClosing      = "server closing"
	reasonServerDisconnected = "server disconnected client"
)

// peerConn is one live peer session. The receive loop is the only reader;
// the write pump is the only writer (gorilla/websocket permits one of each).
type peerConn struct {
	addr string
	ws   *websocket.Conn
	srv  *Server
	log  zerolog.Logger

	sendq  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
}

func (c *peerConn) is(s connState) bool {
	return connState(c.state.Load()) == s
}

// writePump owns all writes: outbound sends, keepalive pings, and the
// graceful close handshake when either cancellation tier fires.
func (c *peerConn) writePump() {
	defer c.srv.wg.Done()

	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.srv.ctx.Done():
			c.beginClose(reasonServerClosing)
			return
		case <-c.ctx.Done():
			c.beginClose(reasonServerDisconnected)
			return
		case data := <-c.sendq:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				// Fire-and-forget contract: the failure reaches the caller
				// only through the eventual Disconnect event.
				c.log.Debug().Err(err).Msg("write failed")
				c.abortRead()
				return
			}
			observability.RecordBytesOut(len(data))
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				c.abortRead()
				return
			}
		}
	}
}

// beginClose sends the close frame with a human-readable reason and bounds
// how long the receive loop waits for the peer's close echo. The socket
// itself is released by the receive loop's teardown.
func (c *peerConn) beginClose(reason string) {
	if !c.state.CompareAndSwap(int32(stateOpen), int32(stateClosing)) &&
		!c.state.CompareAndSwap(int32(stateAccepted), int32(stateClosing)) {
		// Already closing or closed; the handshake was sent elsewhere.
		return
	}
	deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.log.Debug().Err(err).Msg("close handshake write failed")
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.CloseGrace))
}

// abortRead shortens the read deadline so the receive loop unwinds within
// the close grace instead of waiting out PongWait. Used when the write side
// of the transport has failed; the initiator stays peer-side, so the
// per-connection context is left alone.
func (c *peerConn) abortRead() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.CloseGrace))
}

// readLoop fires Connect once, then surfaces each received chunk in stream
// order until the socket leaves the open state or a cancellation tier fires.
func (c *peerConn) readLoop() {
	defer c.srv.wg.Done()
	defer c.finish()

	c.ws.SetReadLimit(c.srv.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	})

	c.state.Store(int32(stateOpen))
	c.srv.events.OnConnect(c.addr)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.is(stateClosing) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		observability.RecordBytesIn(len(data))
		c.srv.events.OnIncomingData(c.addr, data)
	}
}

// finish tears the session down: close handshake if still owed, socket
// release, registry removal, and the Disconnect event unless the exit was a
// server-wide stop.
func (c *peerConn) finish() {
	serverWide := c.srv.ctx.Err() != nil
	serverInitiated := serverWide || c.ctx.Err() != nil

	// Remote-initiated exits still owe the peer a close frame. gorilla's
	// default close handler echoes one during ReadMessage, so this only
	// covers abrupt stream errors.
	if !c.is(stateClosing) {
		reason := reasonServerDisconnected
		if serverWide {
			reason = reasonServerClosing
		}
		deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	}

	_ = c.ws.Close()
	c.state.Store(int32(stateClosed))
	c.cancel()
	c.srv.unregister(c)
	observability.RecordDisconnect(serverInitiated)

	if !serverWide {
		c.srv.events.OnDisconnect(c.addr, serverInitiated)
	}
	c.log.Info().Bool("server_initiated", serverInitiated).Bool("server_wide", serverWide).Msg("connection closed")
}
