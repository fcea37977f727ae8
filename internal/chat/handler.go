package chat

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Clients are served from other origins; there is no cookie auth to protect.
	},
}

type Handler struct {
	hub       *Hub
	service   *Service
	queueSize int
	log       zerolog.Logger
}

func NewHandler(hub *Hub, service *Service, queueSize int, log zerolog.Logger) *Handler {
	return &Handler{
		hub:       hub,
		service:   service,
		queueSize: queueSize,
		log:       log,
	}
}

// ServeWs upgrades the connection and runs the session until the peer goes away.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws.upgrade.failed")
		return
	}

	client := newClient(h.hub, h.service, conn, h.queueSize, h.log)
	if err := h.hub.Register(client); err != nil {
		_ = conn.Close()
		return
	}
	client.log.Info().Str("remote", r.RemoteAddr).Msg("session.connected")

	go client.writePump()
	client.readPump(r.Context())

	client.log.Info().Msg("session.disconnected")
}
