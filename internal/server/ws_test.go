package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/pilah/internal/store"
)

func dialHub(t *testing.T, hub *EventHub) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestEventHub_PublishRun(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	conn := dialHub(t, hub)

	hub.PublishRun(&store.Run{
		ID:             "run-1",
		Command:        "BOTOL",
		BottleDetected: true,
		Status:         store.RunCompleted,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev.Type != "run" || ev.Run == nil || ev.Run.ID != "run-1" || ev.Run.Command != "BOTOL" {
		t.Errorf("unexpected event %s", msg)
	}
}

func TestEventHub_ClientDisconnect(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	conn := dialHub(t, hub)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventHub_Close(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	conn := dialHub(t, hub)

	hub.Close()

	if hub.Clients() != 0 {
		t.Errorf("expected no clients after Close, got %d", hub.Clients())
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read error after hub closed")
	}
}

func TestEventHub_PublishWithoutClients(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	hub.PublishRun(&store.Run{ID: "nobody-listening"})
}
