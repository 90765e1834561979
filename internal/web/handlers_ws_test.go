package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

func newTestHub() *WSHub {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWSHub(logger)
}

func testEvent(ln string) eventMessage {
	return newEventMessage(access.Event{
		Type:        access.EventAttributeRead,
		ClassID:     3,
		LogicalName: cosem.MustLogicalName(ln),
		Index:       2,
		Value:       dlms.NewUInt32(42),
	})
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	count := len(hub.clients)
	hub.mu.RUnlock()
	if count != 1 {
		t.Errorf("after register: count = %d, want 1", count)
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	count = len(hub.clients)
	hub.mu.RUnlock()
	if count != 0 {
		t.Errorf("after unregister: count = %d, want 0", count)
	}
}

func TestWSHubBroadcastFilters(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	all := &wsClient{send: make(chan []byte, 16)}
	energy := &wsClient{send: make(chan []byte, 16), filter: energyLN}
	other := &wsClient{send: make(chan []byte, 16), filter: "0.0.1.0.0.255"}
	hub.register <- all
	hub.register <- energy
	hub.register <- other
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(testEvent(energyLN))
	time.Sleep(10 * time.Millisecond)

	for name, c := range map[string]*wsClient{"all": all, "energy": energy} {
		select {
		case msg := <-c.send:
			var m eventMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if m.LogicalName != energyLN || m.Index != 2 || m.Value == nil || m.Value.Value != "42" {
				t.Errorf("%s: message = %+v", name, m)
			}
		default:
			t.Errorf("%s did not receive broadcast", name)
		}
	}
	select {
	case <-other.send:
		t.Error("filtered client received another object's event")
	default:
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 64)}
	hub.register <- slow
	hub.register <- fast
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(testEvent(energyLN))
	time.Sleep(10 * time.Millisecond)
	hub.Broadcast(testEvent(energyLN))
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, slowPresent := hub.clients[slow]
	_, fastPresent := hub.clients[fast]
	hub.mu.RUnlock()

	if slowPresent {
		t.Error("slow client should have been evicted")
	}
	if !fastPresent {
		t.Error("fast client should still be present")
	}
}

func TestWSHubBroadcastDropsWhenFull(t *testing.T) {
	hub := newTestHub()
	// Not running: nothing drains the channel.
	defer hub.Stop()

	for i := 0; i < 256; i++ {
		hub.Broadcast(testEvent(energyLN))
	}

	done := make(chan struct{})
	go func() {
		hub.Broadcast(testEvent(energyLN))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked when channel is full")
	}
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Stop()
	hub.Stop()
	time.Sleep(10 * time.Millisecond)

	if _, ok := <-client.send; ok {
		t.Error("client.send should be closed after hub stop")
	}
}

func TestWSStreamsAccessEvents(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?ln=" + energyLN
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Registration is asynchronous; wait for the hub to see the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.wsHub.mu.RLock()
		n := len(srv.wsHub.clients)
		srv.wsHub.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w := serve(srv, "PUT", "/api/objects/3/"+energyLN+"/attributes/2", `{"type":"uint32","value":"7"}`)
	if w.Code != 200 {
		t.Fatalf("write status = %d", w.Code)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var m eventMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Type != access.EventAttributeWritten || m.LogicalName != energyLN || m.Value == nil || m.Value.Value != "7" {
		t.Errorf("event = %+v", m)
	}
}

func TestWSRejectsBadFilter(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")
	w := serve(srv, "GET", "/ws?ln=nope", "")
	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
