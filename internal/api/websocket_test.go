package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/nodelink-core/internal/node"
)

func dialWS(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, id string, channels ...string) {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      id,
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	resp := readWS(t, conn)
	if resp.Type != WSTypeResponse || resp.ID != id {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", s.hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_SubscribeAndEvent(t *testing.T) {
	s := testServer(t, newMockRegistry(), "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	conn, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	waitClients(t, s, 1)

	subscribe(t, conn, "sub-1", string(node.EventDeviceDiscovered))

	// Not subscribed: dropped.
	s.OnEvent(node.Event{Type: node.EventLivenessChanged, DeviceID: devB, Time: time.Now()})
	s.OnEvent(node.Event{Type: node.EventDeviceDiscovered, DeviceID: devA, Liveness: node.LivenessActive, Time: time.Now()})

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != string(node.EventDeviceDiscovered) {
		t.Fatalf("message = %+v, want device_discovered event", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", msg.Payload)
	}
	if payload["device_id"] != "0013A20040A1B2C3" || payload["liveness"] != "active" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_Wildcard(t *testing.T) {
	s := testServer(t, newMockRegistry(), "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	conn, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	waitClients(t, s, 1)

	subscribe(t, conn, "all", WSChannelAll)

	s.OnEvent(node.Event{Type: node.EventDeviceRekeyed, DeviceID: devA, PreviousID: 0xFFFFFFFE00000001, Time: time.Now()})

	msg := readWS(t, conn)
	if msg.EventType != string(node.EventDeviceRekeyed) {
		t.Fatalf("event_type = %q", msg.EventType)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["previous_id"] != "FFFFFFFE00000001" {
		t.Errorf("previous_id = %v", payload["previous_id"])
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	s := testServer(t, newMockRegistry(), "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	conn, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	tests := []struct {
		name     string
		send     string
		wantType string
	}{
		{"ping", `{"type":"ping","id":"p1"}`, WSTypePong},
		{"invalid JSON", `{nope`, WSTypeError},
		{"unknown type", `{"type":"reboot","id":"r1"}`, WSTypeError},
		{"subscribe without channels", `{"type":"subscribe","id":"s1","payload":{"channels":[]}}`, WSTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			if msg := readWS(t, conn); msg.Type != tt.wantType {
				t.Errorf("type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	s := testServer(t, newMockRegistry(), testSecret)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	_, resp, err := dialWS(t, ts, "")
	if err == nil {
		t.Fatal("Dial() without ticket should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}

	rec := doRequest(t, s.routes(), http.MethodPost, "/api/v1/auth/ws-ticket", issue(t, RoleViewer, time.Hour), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ws-ticket status = %d", rec.Code)
	}
	var body struct {
		Ticket string `json:"ticket"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Ticket == "" {
		t.Fatalf("ticket body = %s (%v)", rec.Body.String(), err)
	}

	conn, _, err := dialWS(t, ts, "?ticket="+body.Ticket)
	if err != nil {
		t.Fatalf("Dial() with ticket error = %v", err)
	}
	conn.Close()

	if _, resp, err = dialWS(t, ts, "?ticket="+body.Ticket); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Error("ticket accepted twice")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	store := newTicketStore()
	ticket := store.issue()

	store.mu.Lock()
	store.tickets[ticket] = time.Now().Add(-time.Second)
	store.mu.Unlock()

	store.sweep()
	if store.redeem(ticket) {
		t.Error("expired ticket redeemed")
	}
}
