package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/config"
	"github.com/alinzhou20/miniServer/internal/registry"
	"github.com/alinzhou20/miniServer/pkg/event"
)

// Hub is the event loop the handler feeds. Connect/Disconnect/Dispatch all
// serialize on its single goroutine.
type Hub interface {
	Connect(conn registry.Conn) error
	Disconnect(connID string) error
	Dispatch(conn registry.Conn, env *event.Envelope) error
}

// TokenVerifier is the resolver's token path: handshake tokens are issued
// by the login endpoint and verified here before admission.
type TokenVerifier interface {
	VerifyToken(token string) (*event.Identity, error)
}

var upgrader = websocket.Upgrader{
	// Origin checking is a deployment concern; classroom installs sit
	// behind a single trusted frontend.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests to WebSocket connections, authenticates
// the handshake token, and hands the connection to the hub.
type Handler struct {
	hub      Hub
	verifier TokenVerifier
	cfg      *config.WebSocketConfig
	log      zerolog.Logger
}

func NewHandler(h Hub, verifier TokenVerifier, cfg *config.WebSocketConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      h,
		verifier: verifier,
		cfg:      cfg,
		log:      logger.With().Str("comp", "transport").Logger(),
	}
}

// HandleWebSocket validates the token before upgrading so invalid requests
// get proper HTTP status codes instead of a doomed socket.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" {
		http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}

	identity, err := h.verifier.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	conn := NewConnection(ws, identity, h.cfg.BufferSize, h.cfg.WriteTimeout)
	if err := h.hub.Connect(conn); err != nil {
		h.log.Error().Err(err).Str("participant", identity.ID).Msg("admission rejected")
		_ = conn.Close()
		return
	}

	go h.readLoop(conn, ws)
}

// readLoop pumps inbound frames into the hub. Delivery per connection is
// ordered: each decoded envelope is enqueued before the next frame is
// read. On any read error the connection is withdrawn from the registry
// regardless of in-flight store I/O.
func (h *Handler) readLoop(conn *Connection, ws *websocket.Conn) {
	defer func() {
		_ = h.hub.Disconnect(conn.ID())
		_ = conn.Close()
	}()

	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	ws.SetReadLimit(int64(event.MaxPayloadBytes) + 4096)

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("conn", conn.ID()).Msg("read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frames fault only this connection's sender.
			_ = conn.Send(&event.Ack{
				Success: false,
				Message: ErrInvalidJSON.Error(),
				At:      time.Now().UnixMilli(),
			})
			continue
		}

		if err := h.hub.Dispatch(conn, &env); err != nil {
			h.log.Warn().Err(err).Str("conn", conn.ID()).Msg("dispatch failed")
			return
		}
	}
}
