package view

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sparkbox/go-kiosk/internal/events"
	"github.com/sparkbox/go-kiosk/internal/kiosk"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

type wsReply struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readReply(t *testing.T, conn *websocket.Conn) wsReply {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r wsReply
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatalf("read: %v", err)
	}
	return r
}

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Engine())
	t.Cleanup(ts.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketRoundTrip(t *testing.T) {
	s, k := newTestServer(t, Deps{})
	conn := dialWS(t, s)

	if r := readReply(t, conn); r.Type != msgState {
		t.Fatalf("first message = %q", r.Type)
	}

	if err := conn.WriteJSON(map[string]any{"type": "input", "action": "next"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "image_error", "id": "preview", "original": "/static/p.png"}); err != nil {
		t.Fatal(err)
	}
	r := readReply(t, conn)
	if r.Type != msgImageDecision {
		t.Fatalf("reply = %q", r.Type)
	}
	var d imageDecision
	if err := json.Unmarshal(r.Data, &d); err != nil {
		t.Fatal(err)
	}
	if !d.Retry || d.ID != "preview" {
		t.Fatalf("decision = %+v", d)
	}

	sent := k.sent()
	if len(sent) != 1 || sent[0] != (kiosk.MsgAction{Action: events.ActionNext}) {
		t.Fatalf("sent = %#v", sent)
	}

	s.Hub().Publish(kiosk.RenderModel{Screen: kiosk.ScreenResult})
	r = readReply(t, conn)
	if r.Type != msgState || !strings.Contains(string(r.Data), `"screen":"result"`) {
		t.Fatalf("broadcast = %s %s", r.Type, r.Data)
	}
}

func TestWebSocketErrors(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	conn := dialWS(t, s)
	readReply(t, conn)

	for _, raw := range []string{
		`not json`,
		`{"type":"dance"}`,
		`{"type":"input"}`,
		`{"type":"image_error"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		if r := readReply(t, conn); r.Type != msgError {
			t.Fatalf("%s: reply = %q", raw, r.Type)
		}
	}
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	h := NewHub()
	entry := newConnEntry(nil)
	if !h.register("slow", entry) {
		t.Fatal("register failed")
	}
	for i := 0; i <= connOutboxSize; i++ {
		h.Publish(kiosk.RenderModel{})
	}
	if h.Len() != 0 {
		t.Fatalf("len = %d, slow client should be dropped", h.Len())
	}
	select {
	case <-entry.closeCh:
	default:
		t.Fatal("entry not closed")
	}
	if entry.enqueue(websocket.TextMessage, nil) {
		t.Fatal("enqueue after close should fail")
	}
}

func TestHubRegisterLimits(t *testing.T) {
	h := NewHub()
	for i := 0; i < maxConnections; i++ {
		if !h.register(string(rune('a'+i)), newConnEntry(nil)) {
			t.Fatalf("register %d failed", i)
		}
	}
	if h.register("overflow", newConnEntry(nil)) {
		t.Fatal("register beyond limit should fail")
	}
	h.Close()
	if h.Len() != 0 || h.register("late", newConnEntry(nil)) {
		t.Fatal("closed hub should reject connections")
	}
}

func TestCheckLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8090", true},
		{"http://127.0.0.1", true},
		{"HTTP://LOCALHOST", true},
		{"http://[::1]:3000", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkLocalOrigin(r); got != tt.want {
			t.Errorf("checkLocalOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
