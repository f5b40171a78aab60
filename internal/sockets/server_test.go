package sockets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/duova/EvolitsExtracts/internal/testutil/testlog"
)

const eventWait = 3 * time.Second

type disconnectEvent struct {
	addr            string
	serverInitiated bool
}

type dataEvent struct {
	addr string
	data []byte
}

type recorder struct {
	connects    chan string
	disconnects chan disconnectEvent
	data        chan dataEvent
}

func newRecorder() *recorder {
	return &recorder{
		connects:    make(chan string, 16),
		disconnects: make(chan disconnectEvent, 16),
		data:        make(chan dataEvent, 16),
	}
}

func (r *recorder) OnConnect(addr string) { r.connects <- addr }
func (r *recorder) OnDisconnect(addr string, serverInitiated bool) {
	r.disconnects <- disconnectEvent{addr: addr, serverInitiated: serverInitiated}
}
func (r *recorder) OnIncomingData(addr string, data []byte) {
	r.data <- dataEvent{addr: addr, data: append([]byte(nil), data...)}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CloseGrace = 500 * time.Millisecond
	return cfg
}

func startServer(t *testing.T, events Events) (*Server, string) {
	t.Helper()
	testlog.Start(t)
	srv := NewServer(testConfig(), zerolog.Nop(), events)
	if err := srv.Start(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)
	port := srv.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("ws://127.0.0.1:%d%s", port, srv.cfg.Path)
	return srv, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitConnect(t *testing.T, rec *recorder) string {
	t.Helper()
	select {
	case addr := <-rec.connects:
		return addr
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for connect event")
		return ""
	}
}

func TestConnectFiresConnectEvent(t *testing.T) {
	rec := newRecorder()
	srv, url := startServer(t, rec)
	conn := dial(t, url)
	defer conn.Close()

	addr := waitConnect(t, rec)
	if addr == "" {
		t.Fatal("connect event carried empty address")
	}
	addrs := srv.Addresses()
	if len(addrs) != 1 || addrs[0] != addr {
		t.Fatalf("Addresses() = %v, want [%s]", addrs, addr)
	}
}

func TestIncomingDataReachesEvents(t *testing.T) {
	rec := newRecorder()
	_, url := startServer(t, rec)
	conn := dial(t, url)

	addr := waitConnect(t, rec)
	payload := []byte{0x01, 0x02, 0x03}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-rec.data:
		if ev.addr != addr {
			t.Fatalf("data from %s, want %s", ev.addr, addr)
		}
		if string(ev.data) != string(payload) {
			t.Fatalf("data = % X, want % X", ev.data, payload)
		}
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for incoming data")
	}
}

func TestSendDeliversToPeer(t *testing.T) {
	rec := newRecorder()
	srv, url := startServer(t, rec)
	conn := dial(t, url)

	addr := waitConnect(t, rec)
	payload := []byte("typed frame bytes")
	if !srv.Send(addr, payload) {
		t.Fatal("send to live peer returned false")
	}

	_ = conn.SetReadDeadline(time.Now().Add(eventWait))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("client received %q, want %q", got, payload)
	}
}

func TestSendToUnknownAddressReturnsFalse(t *testing.T) {
	srv, _ := startServer(t, nil)
	if srv.Send("203.0.113.9:55555", []byte("x")) {
		t.Fatal("send to unknown address returned true")
	}
}

func TestDisconnectUnknownAddressReturnsFalse(t *testing.T) {
	srv, _ := startServer(t, nil)
	if srv.Disconnect("203.0.113.9:55555") {
		t.Fatal("disconnect of unknown address returned true")
	}
}

func TestDisconnectClosesPeerWithReason(t *testing.T) {
	rec := newRecorder()
	srv, url := startServer(t, rec)
	conn := dial(t, url)

	addr := waitConnect(t, rec)
	if !srv.Disconnect(addr) {
		t.Fatal("disconnect of live peer returned false")
	}

	_ = conn.SetReadDeadline(time.Now().Add(eventWait))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.CloseNormalClosure {
		t.Fatalf("close code = %d, want %d", closeErr.Code, websocket.CloseNormalClosure)
	}
	if closeErr.Text != reasonServerDisconnected {
		t.Fatalf("close reason = %q, want %q", closeErr.Text, reasonServerDisconnected)
	}

	select {
	case ev := <-rec.disconnects:
		if ev.addr != addr || !ev.serverInitiated {
			t.Fatalf("disconnect event = %+v, want addr=%s server-initiated", ev, addr)
		}
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for disconnect event")
	}
}

func TestStopIsSilentButGraceful(t *testing.T) {
	rec := newRecorder()
	srv, url := startServer(t, rec)
	conn := dial(t, url)

	waitConnect(t, rec)

	closeText := make(chan string, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(eventWait))
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					closeText <- closeErr.Text
				} else {
					closeText <- fmt.Sprintf("no close frame: %v", err)
				}
				return
			}
		}
	}()

	srv.Stop()

	select {
	case text := <-closeText:
		if text != reasonServerClosing {
			t.Fatalf("close reason = %q, want %q", text, reasonServerClosing)
		}
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for close handshake")
	}

	// Shutdown is silent at the per-connection level.
	select {
	case ev := <-rec.disconnects:
		t.Fatalf("unexpected disconnect event on server stop: %+v", ev)
	default:
	}
}

func TestRemoteCloseFiresPeerInitiatedDisconnect(t *testing.T) {
	rec := newRecorder()
	_, url := startServer(t, rec)
	conn := dial(t, url)

	addr := waitConnect(t, rec)
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client done"), deadline)
	_ = conn.Close()

	select {
	case ev := <-rec.disconnects:
		if ev.addr != addr || ev.serverInitiated {
			t.Fatalf("disconnect event = %+v, want addr=%s peer-initiated", ev, addr)
		}
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for disconnect event")
	}
}

func TestStartAfterStopFails(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testConfig(), zerolog.Nop(), nil)
	if err := srv.Start(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv.Stop()
	if err := srv.Start(0); !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("expected ErrAlreadyStopped, got %v", err)
	}
}

func TestStopBeforeStartPreventsStart(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testConfig(), zerolog.Nop(), nil)
	srv.Stop()
	if err := srv.Start(0); !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("expected ErrAlreadyStopped, got %v", err)
	}
}

func TestDoubleStartFails(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testConfig(), zerolog.Nop(), nil)
	if err := srv.Start(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)
	if err := srv.Start(0); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testConfig(), zerolog.Nop(), nil)
	if err := srv.Start(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv.Stop()
	srv.Stop()
}

func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func fakePeerConn(srv *Server, addr string, state connState) *peerConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &peerConn{
		addr:   addr,
		srv:    srv,
		log:    zerolog.Nop(),
		sendq:  make(chan []byte, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	c.state.Store(int32(state))
	return c
}

func TestReusedAddressEvictsPriorSession(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testConfig(), zerolog.Nop(), nil)

	const addr = "198.51.100.7:4242"
	old := fakePeerConn(srv, addr, stateOpen)
	if !srv.register(old) {
		t.Fatal("register of first session failed")
	}

	before := counterValue(t, "evolits_sockets_connections_replaced_total")

	fresh := fakePeerConn(srv, addr, stateAccepted)
	if !srv.register(fresh) {
		t.Fatal("register of replacement session failed")
	}

	if old.ctx.Err() == nil {
		t.Fatal("superseded session's context not cancelled")
	}
	if fresh.ctx.Err() != nil {
		t.Fatal("replacement session's context cancelled")
	}
	srv.mu.RLock()
	got := srv.conns[addr]
	total := len(srv.conns)
	srv.mu.RUnlock()
	if got != fresh || total != 1 {
		t.Fatalf("table holds %d conns for %s, want only the replacement", total, addr)
	}
	if after := counterValue(t, "evolits_sockets_connections_replaced_total"); after != before+1 {
		t.Fatalf("replaced counter = %v, want %v", after, before+1)
	}
}

func TestRegisterAfterStopIsRefused(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testConfig(), zerolog.Nop(), nil)
	srv.Stop()
	if srv.register(fakePeerConn(srv, "198.51.100.7:4242", stateAccepted)) {
		t.Fatal("register succeeded after stop")
	}
}

func TestSendDropsOnSaturatedQueueButReportsTrue(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testConfig(), zerolog.Nop(), nil)

	const addr = "198.51.100.8:4242"
	c := fakePeerConn(srv, addr, stateOpen)
	srv.mu.Lock()
	srv.conns[addr] = c
	srv.mu.Unlock()

	c.sendq <- []byte("queued")
	before := counterValue(t, "evolits_sockets_send_drops_total")

	if !srv.Send(addr, []byte("dropped")) {
		t.Fatal("send to open peer returned false")
	}

	if after := counterValue(t, "evolits_sockets_send_drops_total"); after != before+1 {
		t.Fatalf("drop counter = %v, want %v", after, before+1)
	}
	if len(c.sendq) != 1 {
		t.Fatalf("queue length = %d, want 1", len(c.sendq))
	}
	if got := <-c.sendq; string(got) != "queued" {
		t.Fatalf("queued payload = %q, want the original", got)
	}
}

func TestWriteFailureTearsDownWithinCloseGrace(t *testing.T) {
	rec := newRecorder()
	srv, url := startServer(t, rec)
	conn := dial(t, url)

	addr := waitConnect(t, rec)
	srv.mu.RLock()
	c := srv.conns[addr]
	srv.mu.RUnlock()
	if c == nil {
		t.Fatal("no tracked connection for peer")
	}

	// Kill only the write side so the receive loop stays blocked; teardown
	// must then come from the write pump, not from a read error.
	tcp, ok := c.ws.UnderlyingConn().(*net.TCPConn)
	if !ok {
		t.Fatalf("underlying conn is %T, want *net.TCPConn", c.ws.UnderlyingConn())
	}
	if err := tcp.CloseWrite(); err != nil {
		t.Fatalf("close write side: %v", err)
	}

	if !srv.Send(addr, []byte("doomed")) {
		t.Fatal("send to open peer returned false")
	}

	select {
	case ev := <-rec.disconnects:
		if ev.addr != addr || ev.serverInitiated {
			t.Fatalf("disconnect event = %+v, want addr=%s peer-initiated", ev, addr)
		}
	case <-time.After(eventWait):
		t.Fatal("teardown waited out the pong deadline instead of the close grace")
	}
	_ = conn.Close()
}
