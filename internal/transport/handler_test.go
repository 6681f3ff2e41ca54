package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/config"
	"github.com/alinzhou20/miniServer/internal/registry"
	"github.com/alinzhou20/miniServer/pkg/event"
)

type fakeHub struct {
	mu          sync.Mutex
	connected   []registry.Conn
	disconnects []string
	dispatched  []*event.Envelope
	connectErr  error
	notify      chan struct{}
}

func newFakeHub() *fakeHub {
	return &fakeHub{notify: make(chan struct{}, 32)}
}

func (h *fakeHub) Connect(conn registry.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectErr != nil {
		return h.connectErr
	}
	h.connected = append(h.connected, conn)
	h.notify <- struct{}{}
	return nil
}

func (h *fakeHub) Disconnect(connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, connID)
	h.notify <- struct{}{}
	return nil
}

func (h *fakeHub) Dispatch(conn registry.Conn, env *event.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatched = append(h.dispatched, env)
	h.notify <- struct{}{}
	return nil
}

func (h *fakeHub) snapshot() (int, int, []*event.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	envs := make([]*event.Envelope, len(h.dispatched))
	copy(envs, h.dispatched)
	return len(h.connected), len(h.disconnects), envs
}

func (h *fakeHub) waitEvent(t *testing.T) {
	t.Helper()
	select {
	case <-h.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub activity")
	}
}

type fakeVerifier struct {
	identity *event.Identity
	err      error
}

func (f *fakeVerifier) VerifyToken(token string) (*event.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func testWSConfig() *config.WebSocketConfig {
	return &config.WebSocketConfig{
		PingInterval: time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
		BufferSize:   10,
	}
}

func newHandlerServer(t *testing.T, hub *fakeHub, verifier *fakeVerifier) string {
	t.Helper()
	handler := NewHandler(hub, verifier, testWSConfig(), zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	hub := newFakeHub()
	url := newHandlerServer(t, hub, &fakeVerifier{identity: testIdentity()})

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestHandler_RejectsInvalidToken(t *testing.T) {
	hub := newFakeHub()
	url := newHandlerServer(t, hub, &fakeVerifier{err: errors.New("signature mismatch")})

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=bad", nil)
	if err == nil {
		t.Fatal("dial with invalid token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
	if connected, _, _ := hub.snapshot(); connected != 0 {
		t.Error("rejected handshake reached the hub")
	}
}

func TestHandler_TokenFromQueryOrHeader(t *testing.T) {
	hub := newFakeHub()
	url := newHandlerServer(t, hub, &fakeVerifier{identity: testIdentity()})

	// Query parameter.
	ws, _, err := websocket.DefaultDialer.Dial(url+"?token=ok", nil)
	if err != nil {
		t.Fatalf("query token dial failed: %v", err)
	}
	hub.waitEvent(t)
	_ = ws.Close()

	// Authorization header.
	header := http.Header{}
	header.Set("Authorization", "Bearer ok")
	ws, _, err = websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("header token dial failed: %v", err)
	}
	hub.waitEvent(t)
	_ = ws.Close()

	connected, _, _ := hub.snapshot()
	if connected != 2 {
		t.Errorf("hub connects = %d, want 2", connected)
	}
}

func TestHandler_DispatchesDecodedEnvelopes(t *testing.T) {
	hub := newFakeHub()
	url := newHandlerServer(t, hub, &fakeVerifier{identity: testIdentity()})

	ws, _, err := websocket.DefaultDialer.Dial(url+"?token=ok", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = ws.Close() }()
	hub.waitEvent(t) // connect

	env := event.Envelope{EventType: event.TypeSubmit, MessageType: "vote", Payload: json.RawMessage(`{"choice":2}`)}
	if err := ws.WriteJSON(env); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	hub.waitEvent(t) // dispatch

	_, _, envs := hub.snapshot()
	if len(envs) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(envs))
	}
	if envs[0].EventType != event.TypeSubmit || envs[0].MessageType != "vote" {
		t.Errorf("envelope = %+v", envs[0])
	}
}

func TestHandler_MalformedFrameFaultsOnlySender(t *testing.T) {
	hub := newFakeHub()
	url := newHandlerServer(t, hub, &fakeVerifier{identity: testIdentity()})

	ws, _, err := websocket.DefaultDialer.Dial(url+"?token=ok", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = ws.Close() }()
	hub.waitEvent(t) // connect

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The sender gets a failed ack; the frame never reaches the hub.
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var ack event.Ack
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("ack read failed: %v", err)
	}
	if ack.Success {
		t.Error("malformed frame acknowledged as success")
	}
	if _, _, envs := hub.snapshot(); len(envs) != 0 {
		t.Errorf("malformed frame dispatched: %+v", envs)
	}

	// The connection stays usable.
	if err := ws.WriteJSON(event.Envelope{EventType: event.TypeSubmit, MessageType: "vote"}); err != nil {
		t.Fatalf("write after malformed frame failed: %v", err)
	}
	hub.waitEvent(t)
}

func TestHandler_DisconnectOnClose(t *testing.T) {
	hub := newFakeHub()
	url := newHandlerServer(t, hub, &fakeVerifier{identity: testIdentity()})

	ws, _, err := websocket.DefaultDialer.Dial(url+"?token=ok", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	hub.waitEvent(t) // connect

	_ = ws.Close()
	hub.waitEvent(t) // disconnect

	connected, disconnected, _ := hub.snapshot()
	if connected != 1 || disconnected != 1 {
		t.Errorf("connects = %d disconnects = %d, want 1/1", connected, disconnected)
	}
}
