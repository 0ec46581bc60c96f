package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

func dialSession(t *testing.T, reg *WSRegistry, driver string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		reg.Add(driver, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	return client
}

func TestNotifyReachesDriverSession(t *testing.T) {
	reg := NewWSRegistry(nil)
	client := dialSession(t, reg, "Alice@X.com")

	event := models.RideEvent{Type: models.EventClaim, RideID: "r1", Driver: "alice@x.com"}
	if err := reg.Notify(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	var got models.RideEvent
	if err := client.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.RideID != "r1" || got.Type != models.EventClaim {
		t.Fatalf("event = %+v", got)
	}
}

func TestNotifyNoSession(t *testing.T) {
	reg := NewWSRegistry(nil)
	err := reg.Notify(context.Background(), models.RideEvent{Driver: "ghost@x.com"})
	if err != ErrNoSession {
		t.Fatalf("got %v", err)
	}
}

func TestBroadcastSendsNormalizedSnapshot(t *testing.T) {
	reg := NewWSRegistry(nil)
	client := dialSession(t, reg, "alice@x.com")

	reg.Broadcast("liveRides", []store.Document{
		{ID: "r1", Data: store.Doc{"tripId": "T1", "status": "open"}},
	})

	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg struct {
		Type       string        `json:"type"`
		Collection string        `json:"collection"`
		Rides      []models.Ride `json:"rides"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "snapshot" || msg.Collection != "liveRides" {
		t.Fatalf("msg = %+v", msg)
	}
	if len(msg.Rides) != 1 || msg.Rides[0].TripID != "T1" {
		t.Fatalf("rides = %+v", msg.Rides)
	}
}

func TestRemoveClosesSession(t *testing.T) {
	reg := NewWSRegistry(nil)
	client := dialSession(t, reg, "alice@x.com")

	reg.Remove("ALICE@x.com")
	if err := reg.Notify(context.Background(), models.RideEvent{Driver: "alice@x.com"}); err != ErrNoSession {
		t.Fatalf("got %v", err)
	}
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("connection should be closed")
	}
}
