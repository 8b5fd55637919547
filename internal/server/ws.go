package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgofman/audiostreamer/internal/protocol"
	"github.com/dgofman/audiostreamer/internal/room"
)

// wsPeer wraps a websocket connection as a room peer. Writes are
// serialized by a mutex and bounded by the configured send deadline, so
// a stalled speaker fails the delivery instead of blocking the flush
// scheduler indefinitely.
type wsPeer struct {
	conn        *websocket.Conn
	sendTimeout time.Duration

	writeMu sync.Mutex
}

func (p *wsPeer) SendAudio(block []byte) error {
	return p.write(websocket.BinaryMessage, block)
}

func (p *wsPeer) SendControl(payload []byte) error {
	return p.write(websocket.TextMessage, payload)
}

func (p *wsPeer) write(messageType int, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(p.sendTimeout))
	return p.conn.WriteMessage(messageType, payload)
}

// handleStream implements the /ws endpoint: validates admission
// parameters before upgrade, classifies the connection's role, registers
// it with its room, and pumps inbound frames until the peer goes away.
func (h *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, err := protocol.ParseAdmission(q.Get("roomId"), q.Get("clientId"), q.Get("role"))
	if err != nil {
		h.metrics.RecordAdmissionReject()
		h.logger.Warn("connection rejected",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	peer := &wsPeer{
		conn:        conn,
		sendTimeout: h.config.Server.GetSendTimeout(),
	}

	rm, err := h.registry.Join(params.RoomID, params.ClientID, params.Role, peer)
	if err != nil {
		// Registry closed: the service is shutting down.
		conn.Close()
		return
	}

	h.metrics.RecordConnectionOpened()
	h.logger.Info("connection established",
		slog.String("room_id", params.RoomID),
		slog.String("client_id", params.ClientID),
		slog.String("role", params.Role.String()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	h.readPump(peer, rm, params)
}

// readPump forwards inbound binary frames from microphone-capable
// connections into the room buffer, in arrival order, until the peer
// closes or the transport errors. There is no read deadline: a quiet
// microphone may stay connected indefinitely.
func (h *HTTPServer) readPump(peer *wsPeer, rm *room.Room, params protocol.AdmissionParams) {
	defer func() {
		h.registry.Leave(params.RoomID, peer)
		peer.conn.Close()
		h.metrics.RecordConnectionClosed()
		h.logger.Info("connection closed",
			slog.String("room_id", params.RoomID),
			slog.String("client_id", params.ClientID),
		)
	}()

	peer.conn.SetReadLimit(h.config.Server.MaxMessageBytes())

	isMicrophone := params.Role.IsMicrophone()

	for {
		messageType, data, err := peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read error",
					slog.String("room_id", params.RoomID),
					slog.String("client_id", params.ClientID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		// Only binary frames from microphones feed the room; anything
		// else is accepted and ignored.
		if messageType == websocket.BinaryMessage && isMicrophone {
			rm.AppendAudio(data)
		}
	}
}
