package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"emerald_exchange/internal/engine"

	"github.com/gorilla/websocket"
)

func testEngine() *engine.Engine {
	return engine.New(engine.Settings{
		Enabled:        true,
		BaseBuy:        9.5,
		BaseSell:       10.0,
		MinPrice:       1.0,
		MaxPrice:       1000.0,
		Window:         5 * time.Minute,
		UpdateInterval: 5 * time.Second,
		MaxImpact:      100,
	})
}

func TestBroadcaster_InitialSnapshot(t *testing.T) {
	b := NewBroadcaster(testEngine(), 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	srv := httptest.NewServer(b)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/prices"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var snap engine.Snapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if snap.BuyPrice != 9.5 || snap.SellPrice != 10.0 {
		t.Errorf("Expected snapshot (9.5, 10.0), got (%v, %v)", snap.BuyPrice, snap.SellPrice)
	}
}

func TestBroadcaster_PeriodicUpdates(t *testing.T) {
	b := NewBroadcaster(testEngine(), 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	srv := httptest.NewServer(b)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 3; i++ {
		var snap engine.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("ReadJSON %d failed: %v", i, err)
		}
	}
}

func TestBroadcaster_SubscriberCount(t *testing.T) {
	b := NewBroadcaster(testEngine(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	srv := httptest.NewServer(b)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if got := b.Subscribers(); got != 1 {
		t.Errorf("Expected 1 subscriber, got %d", got)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := b.Subscribers(); got != 0 {
		t.Errorf("Expected 0 subscribers after disconnect, got %d", got)
	}
}
