package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chartscribe/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	queueDepth = 64
)

// Broadcaster fans pipeline events out to every connected UI client over
// websocket. Emission never blocks the pipeline: slow clients drop events.
type Broadcaster struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (b *Broadcaster) SessionChanged(snapshot domain.SessionSnapshot) {
	b.publish("session", snapshot)
}

func (b *Broadcaster) VolumeLevel(level float64) {
	b.publish("volume", map[string]float64{"level": level})
}

func (b *Broadcaster) NoInputWarning(active bool) {
	b.publish("no-input-warning", map[string]bool{"active": active})
}

func (b *Broadcaster) TranscriptUpdated(full string, segment domain.TranscriptSegment) {
	b.publish("transcript", transcriptEvent{Full: full, Segment: segment})
}

func (b *Broadcaster) SessionError(code domain.ErrorCode, detail string) {
	b.publish("error", map[string]string{"code": string(code), "detail": detail})
}

func (b *Broadcaster) HealthChanged(state domain.HealthState) {
	b.publish("health", state)
}

// ServeHTTP upgrades a UI client and streams events until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("event stream upgrade failed", "error", err)
		return
	}

	c := &client{
		ws:   ws,
		out:  make(chan []byte, queueDepth),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	go c.writeLoop()
	c.readLoop()

	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// Close drops all connected clients.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type transcriptEvent struct {
	Full    string                   `json:"full"`
	Segment domain.TranscriptSegment `json:"segment"`
}

func (b *Broadcaster) publish(kind string, payload any) {
	data, err := json.Marshal(envelope{Type: kind, Payload: payload})
	if err != nil {
		b.log.Error("marshal event", "type", kind, "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.out <- data:
		case <-c.done:
		default:
			// Slow consumer; skip rather than stall the pipeline.
		}
	}
}

type client struct {
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *client) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(1 << 16)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
