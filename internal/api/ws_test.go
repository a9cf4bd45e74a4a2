package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

func dialWS(t *testing.T, s *Server, path string) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(s.Handler())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		server.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, server
}

func TestChatWS(t *testing.T) {
	chat := &mockChat{resp: &protocol.TurnResponse{ThreadID: "th-ws", Answer: "hello"}}
	s, _, _ := newTestServer(t, chat, "")
	conn, server := dialWS(t, s, "/api/chat/ws?tenant_id=acme")
	defer server.Close()
	defer conn.Close()

	if err := conn.WriteJSON(wsMessage{Message: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp protocol.TurnResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Answer != "hello" || resp.ThreadID != "th-ws" {
		t.Fatalf("resp = %+v", resp)
	}

	// Second turn sticks to the thread assigned on the first.
	if err := conn.WriteJSON(wsMessage{Message: "and again"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(chat.reqs) != 2 {
		t.Fatalf("engine saw %d turns", len(chat.reqs))
	}
	if chat.reqs[1].ThreadID != "th-ws" {
		t.Fatalf("second turn thread = %q", chat.reqs[1].ThreadID)
	}
	if chat.reqs[1].TenantID != "acme" {
		t.Fatalf("second turn tenant = %q", chat.reqs[1].TenantID)
	}
}

func TestChatWSEmptyMessage(t *testing.T) {
	s, _, _ := newTestServer(t, nil, "")
	conn, server := dialWS(t, s, "/api/chat/ws?tenant_id=acme")
	defer server.Close()
	defer conn.Close()

	if err := conn.WriteJSON(wsMessage{Message: ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var e wsError
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Error == "" {
		t.Fatal("expected error payload")
	}
}

func TestChatWSRequiresTenant(t *testing.T) {
	s, _, _ := newTestServer(t, nil, "")
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/chat/ws"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("expected handshake failure without tenant_id")
	}
}
