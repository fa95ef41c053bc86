package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sats-arena/internal/app"
	"sats-arena/internal/domain"
	"sats-arena/internal/world"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	maxMessage = 4 << 10
)

type WSHandler struct {
	service   *app.Service
	hub       *world.Hub
	positions *world.Positions
	terrain   *world.Terrain
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func NewWSHandler(service *app.Service, hub *world.Hub, positions *world.Positions, terrain *world.Terrain, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service:   service,
		hub:       hub,
		positions: positions,
		terrain:   terrain,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type chatPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets. Clients stream their position
// and chat lines; the server pushes chat and UI frames through the hub.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	name := r.URL.Query().Get("name")
	if playerID == "" {
		http.Error(w, "missing playerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Detached from the request so a dropped socket still disconnects the player.
	ctx := context.WithoutCancel(r.Context())

	client := h.hub.Register(playerID)
	if err := h.service.PlayerConnected(ctx, playerID, name); err != nil {
		h.hub.Unregister(client)
		_ = conn.WriteJSON(world.Message{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	h.sendLayouts(playerID)

	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		h.writeLoop(conn, client, readerDone)
	}()

	h.readLoop(ctx, conn, playerID)
	close(readerDone)
	<-writerDone

	if h.hub.Unregister(client) {
		h.positions.Remove(playerID)
		if err := h.service.PlayerDisconnected(ctx, playerID); err != nil {
			h.logger.Warn("disconnect not delivered", "player", playerID, "err", err)
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, playerID string) {
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch inbound.Type {
		case "position":
			var pos domain.Vec3
			if err := json.Unmarshal(inbound.Payload, &pos); err != nil {
				h.hub.Chat(playerID, "invalid position payload", app.ColorError)
				continue
			}
			h.positions.Update(playerID, pos)
		case "chat":
			var payload chatPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.hub.Chat(playerID, "invalid chat payload", app.ColorError)
				continue
			}
			if err := h.service.HandleChat(ctx, playerID, payload.Text); err != nil {
				h.logger.Error("chat command failed", "player", playerID, "err", err)
				return
			}
		default:
			h.hub.Chat(playerID, "unsupported message type", app.ColorError)
		}
	}
}

// writeLoop is the only writer on conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, client *world.Client, readerDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-client.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", "player", client.ID, "err", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-client.Done():
			// Replaced by a newer connection for the same player.
			_ = conn.Close()
			return
		case <-readerDone:
			return
		}
	}
}

func (h *WSHandler) sendLayouts(playerID string) {
	for _, areaID := range h.terrain.Areas() {
		layout, _ := h.terrain.Layout(areaID)
		h.hub.UI(playerID, domain.UIEvent{Type: app.UIPlatformsLayout, AreaID: areaID, Platforms: layout})
	}
}
