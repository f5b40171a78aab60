// Package sockets is the streaming connection manager: it accepts websocket
// peers, tracks at most one live session per peer address, runs one receive
// loop and one write pump per session, and exposes connect/disconnect/send
// lifecycle operations to the application layer. Framing and decoding of the
// received bytes is the caller's concern, not the transport's.
package sockets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/duova/EvolitsExtracts/internal/observability"
)

var (
	ErrAlreadyStarted = errors.New("sockets: server already started")
	ErrAlreadyStopped = errors.New("sockets: server already stopped")
)

// Config tunes one Server instance.
type Config struct {
	// Path is the HTTP route that upgrades to a websocket session.
	Path string
	// ReadLimit caps one inbound websocket message, in bytes.
	ReadLimit int64
	// WriteQueueDepth is the per-connection outbound queue; Send drops when
	// the queue is saturated.
	WriteQueueDepth int
	// WriteTimeout bounds each socket write, including close frames.
	WriteTimeout time.Duration
	// PingInterval paces keepalive pings; must stay below PongWait.
	PingInterval time.Duration
	// PongWait is the read deadline refreshed by each pong.
	PongWait time.Duration
	// CloseGrace bounds the wait for a peer's close echo during teardown.
	CloseGrace time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Path:            "/ws",
		ReadLimit:       1 << 20,
		WriteQueueDepth: 64,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		CloseGrace:      2 * time.Second,
	}
}

// Server owns the listening endpoint and the address→connection table.
//
// A Server runs at most once: Start after Stop fails with ErrAlreadyStopped
// and a fresh instance must be constructed to listen again.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	events   Events
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	conns    map[string]*peerConn
	started  bool
	stopped  bool
	httpSrv  *http.Server
	listener net.Listener

	wg sync.WaitGroup
}

// NewServer constructs an idle server. A nil events sink is allowed.
func NewServer(cfg Config, logger zerolog.Logger, events Events) *Server {
	if events == nil {
		events = nopEvents{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		log:    logger,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy belongs to the fronting deployment layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*peerConn),
	}
}

// Start binds the listener and begins accepting sessions. Port 0 binds an
// ephemeral port; Addr reports the bound address.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrAlreadyStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("sockets: listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)

	s.listener = ln
	s.httpSrv = &http.Server{Handler: mux}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("accept loop exited")
		}
	}()

	s.log.Info().Stringer("addr", ln.Addr()).Str("path", s.cfg.Path).Msg("listening")
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop signals global cancellation and waits for every session to unwind
// cooperatively. Connections complete their graceful close handshake but
// fire no Disconnect events. Stop is idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	httpSrv := s.httpSrv
	s.mu.Unlock()

	s.cancel()
	if httpSrv != nil {
		_ = httpSrv.Close()
	}
	s.wg.Wait()
	s.log.Info().Msg("stopped")
}

// Send enqueues data for the peer at addr without waiting for transport
// completion. It reports false when no open connection is tracked for addr;
// transport-level failures after enqueue are observable only through the
// connection's subsequent Disconnect event.
func (s *Server) Send(addr string, data []byte) bool {
	s.mu.RLock()
	c := s.conns[addr]
	s.mu.RUnlock()
	if c == nil || !c.is(stateOpen) {
		return false
	}
	select {
	case c.sendq <- data:
	default:
		observability.RecordSendDropped()
		c.log.Warn().Int("bytes", len(data)).Msg("send queue saturated, dropping")
	}
	return true
}

// Disconnect cancels the session for addr only. It reports false when no
// connection is tracked for addr.
func (s *Server) Disconnect(addr string) bool {
	s.mu.RLock()
	c := s.conns[addr]
	s.mu.RUnlock()
	if c == nil {
		return false
	}
	c.cancel()
	return true
}

// Addresses returns the tracked peer addresses, sorted.
func (s *Server) Addresses() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.conns))
	for addr := range s.conns {
		out = append(out, addr)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	addr := ws.RemoteAddr().String()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &peerConn{
		addr:   addr,
		ws:     ws,
		srv:    s,
		log:    s.log.With().Str("conn_id", id).Str("peer", addr).Logger(),
		sendq:  make(chan []byte, s.cfg.WriteQueueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	c.state.Store(int32(stateAccepted))

	if !s.register(c) {
		cancel()
		_ = ws.Close()
		return
	}

	go c.writePump()
	go c.readLoop()
}

// register installs c in the connection table, evicting any prior session on
// the same peer address. It reports false when the server has stopped.
// Registration and wg.Add are ordered against Stop through the stopped flag,
// so Stop never waits on a zero counter while a session launches.
func (s *Server) register(c *peerConn) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	old := s.conns[c.addr]
	s.conns[c.addr] = c
	s.wg.Add(2)
	s.mu.Unlock()

	if old != nil {
		// A re-used address supersedes the prior session; close it instead
		// of leaking its loops.
		observability.RecordConnectionReplaced()
		c.log.Warn().Msg("replacing existing connection for peer address")
		old.cancel()
	}

	observability.RecordConnectionAccepted()
	return true
}

func (s *Server) unregister(c *peerConn) {
	s.mu.Lock()
	if s.conns[c.addr] == c {
		delete(s.conns, c.addr)
	}
	s.mu.Unlock()
}
