// Package feed streams live price snapshots to websocket subscribers.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"emerald_exchange/internal/engine"
	"emerald_exchange/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Snapshot data is public; no origin restriction.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan engine.Snapshot
}

// Broadcaster pushes price snapshots to every connected subscriber on
// the engine's publication cadence. Slow subscribers are disconnected
// rather than allowed to stall the fan-out.
type Broadcaster struct {
	prices   *engine.Engine
	interval time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

// NewBroadcaster builds a broadcaster publishing every interval.
func NewBroadcaster(prices *engine.Engine, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Broadcaster{
		prices:   prices,
		interval: interval,
		clients:  make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and registers the subscriber.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan engine.Snapshot, sendBuffer),
	}
	b.mu.Lock()
	b.clients[c.id] = c
	n := len(b.clients)
	b.mu.Unlock()
	metrics.Global.SetFeedSubscribers(int32(n))
	slog.Info("price feed subscriber connected", slog.String("id", c.id), slog.Int("subscribers", n))

	// Immediate snapshot so new subscribers do not wait a full interval.
	c.send <- b.prices.State()

	go b.writeLoop(c)
	go b.readLoop(c)
}

func (b *Broadcaster) writeLoop(c *client) {
	defer c.conn.Close()
	for snap := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(snap); err != nil {
			b.drop(c)
			return
		}
	}
}

// readLoop exists only to notice disconnects; inbound frames are
// discarded.
func (b *Broadcaster) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			b.drop(c)
			return
		}
	}
}

func (b *Broadcaster) drop(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		close(c.send)
		metrics.Global.SetFeedSubscribers(int32(len(b.clients)))
		slog.Info("price feed subscriber disconnected", slog.String("id", c.id))
	}
	b.mu.Unlock()
}

// Subscribers returns the current connection count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Run publishes snapshots on the configured interval until ctx is done,
// then disconnects every subscriber.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for id, c := range b.clients {
				delete(b.clients, id)
				close(c.send)
				c.conn.Close()
			}
			b.mu.Unlock()
			return
		case <-ticker.C:
			snap := b.prices.State()
			b.mu.Lock()
			for _, c := range b.clients {
				select {
				case c.send <- snap:
				default:
					// Buffer full: subscriber is not keeping up.
					go c.conn.Close()
				}
			}
			b.mu.Unlock()
		}
	}
}
