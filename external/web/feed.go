package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/chatbox"
	"github.com/gorilla/websocket"
)

const (
	feedWriteWait    = 10 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingInterval = 30 * time.Second
	feedSendBuffer   = 32
)

type FeedLine struct {
	SessionID  string    `json:"session_id"`
	Index      int       `json:"index"`
	Source     string    `json:"source"`
	Translated string    `json:"translated,omitempty"`
	Display    string    `json:"display"`
	SpokenAt   time.Time `json:"spoken_at"`
}

type FeedEvent struct {
	Type string    `json:"type"`
	Line *FeedLine `json:"line,omitempty"`
	Text string    `json:"text,omitempty"`
}

// Feed pushes finalized chatbox lines to every connected panel over
// websocket. Clients that cannot keep up are dropped.
type Feed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*feedClient]struct{}),
	}
}

var _ chatbox.Sink = (*Feed)(nil)

func (f *Feed) LineFinalized(_ context.Context, line chatbox.Line) error {
	return f.Publish(FeedEvent{
		Type: "line",
		Line: &FeedLine{
			SessionID:  line.SessionID,
			Index:      line.Index,
			Source:     line.Source,
			Translated: line.Translated,
			Display:    line.Display,
			SpokenAt:   line.SpokenAt,
		},
	})
}

func (f *Feed) Publish(event FeedEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode feed event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- b:
		default:
			slog.Warn("dropping slow live feed client", "remote", c.conn.RemoteAddr().String())
			f.removeLocked(c)
		}
	}
	return nil
}

func (f *Feed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeHTTP upgrades the request and keeps the client registered until
// the connection fails or the feed is closed.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("live feed upgrade failed", "error", err)
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	slog.Debug("live feed client connected", "remote", conn.RemoteAddr().String())

	go f.writePump(c)
	f.readPump(c)
}

// readPump only services control frames; the feed is one-way.
func (f *Feed) readPump(c *feedClient) {
	defer f.remove(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("live feed read failed", "error", err)
			}
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient) {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				f.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(c)
				return
			}
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(c)
}

func (f *Feed) removeLocked(c *feedClient) {
	if _, ok := f.clients[c]; !ok {
		return
	}
	delete(f.clients, c)
	close(c.send)
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		f.removeLocked(c)
	}
}
