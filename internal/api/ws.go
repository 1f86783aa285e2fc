package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler streams balance events for the session account.
func (h *Handler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(accountID, conn)
}

func (h *Handler) BroadcastHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.BroadcastRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		respondWithMalformed(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	n := h.hub.Broadcast(req.Message)
	h.logger.Info("broadcast sent", zap.Int("recipients", n))
	respondWithJSON(w, http.StatusOK, map[string]int{"recipients": n})
}
