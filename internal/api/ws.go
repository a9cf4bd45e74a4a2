package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// Origin checking happens through tenant validation before the upgrade,
// so the upgrader itself accepts any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsMessage struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

type wsError struct {
	Error string `json:"error"`
}

// handleChatWS serves the embedded chat widget over a WebSocket. One
// connection carries one conversation; the thread id is assigned on the
// first turn and reused for the rest of the connection.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
		return
	}
	if !s.checkTenant(w, r, tenantID) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "tenant", tenantID, "error", err)
		return
	}
	defer conn.Close()

	var threadID string
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "tenant", tenantID, "error", err)
			}
			return
		}
		if msg.Message == "" {
			if err := conn.WriteJSON(wsError{Error: "message is required"}); err != nil {
				return
			}
			continue
		}
		if msg.ThreadID != "" {
			threadID = msg.ThreadID
		}

		resp, err := s.chat.ProcessTurn(r.Context(), protocol.TurnRequest{
			ThreadID: threadID,
			TenantID: tenantID,
			Message:  msg.Message,
		})
		if err != nil {
			s.logger.Error("websocket turn failed", "thread", threadID, "tenant", tenantID, "error", err)
			if err := conn.WriteJSON(wsError{Error: "internal error"}); err != nil {
				return
			}
			continue
		}
		threadID = resp.ThreadID

		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}
