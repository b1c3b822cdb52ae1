package companion

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chartscribe/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
	sendDepth  = 32
)

// Link is the websocket hub for paired mobile companion devices. It tracks
// connection liveness, forwards sealed audio segments as binary frames, and
// surfaces sync notices sent back by the device.
type Link struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	// OnSync fires when a companion reports it merged transcript output.
	OnSync func()
	// OnChange fires when a device connects or disconnects.
	OnChange func()

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func NewLink(log *slog.Logger) *Link {
	if log == nil {
		log = slog.Default()
	}
	return &Link{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// Connected reports whether at least one companion device is attached.
func (l *Link) Connected() bool {
	return l.ConnectedDevices() > 0
}

// ConnectedDevices returns the number of live companion connections.
func (l *Link) ConnectedDevices() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Forward fans a sealed segment out to every connected device as a binary
// frame preceded by a small JSON header frame.
func (l *Link) Forward(ctx context.Context, seg domain.SealedSegment) error {
	l.mu.Lock()
	targets := make([]*conn, 0, len(l.conns))
	for c := range l.conns {
		targets = append(targets, c)
	}
	l.mu.Unlock()

	if len(targets) == 0 {
		return errors.New("no companion device connected")
	}

	header, err := json.Marshal(segmentHeader{
		SegmentID: seg.ID,
		Sequence:  seg.Sequence,
		StartedAt: seg.StartedAt,
		SealedAt:  seg.SealedAt,
		Bytes:     len(seg.Audio),
	})
	if err != nil {
		return err
	}

	for _, c := range targets {
		c.send(websocket.TextMessage, header)
		c.send(websocket.BinaryMessage, seg.Audio)
	}
	return nil
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (l *Link) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("companion upgrade failed", "error", err)
		return
	}

	c := &conn{
		ws:    ws,
		out:   make(chan frame, sendDepth),
		done:  make(chan struct{}),
		owner: l,
	}

	l.mu.Lock()
	l.conns[c] = struct{}{}
	count := len(l.conns)
	l.mu.Unlock()
	l.log.Info("companion connected", "remote", r.RemoteAddr, "devices", count)
	l.notifyChange()

	go c.writeLoop()
	c.readLoop()

	l.mu.Lock()
	delete(l.conns, c)
	count = len(l.conns)
	l.mu.Unlock()
	l.log.Info("companion disconnected", "remote", r.RemoteAddr, "devices", count)
	l.notifyChange()
}

// Close drops every live connection.
func (l *Link) Close() {
	l.mu.Lock()
	targets := make([]*conn, 0, len(l.conns))
	for c := range l.conns {
		targets = append(targets, c)
	}
	l.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

func (l *Link) notifyChange() {
	if l.OnChange != nil {
		l.OnChange()
	}
}

type segmentHeader struct {
	SegmentID string    `json:"segmentId"`
	Sequence  int       `json:"sequence"`
	StartedAt time.Time `json:"startedAt"`
	SealedAt  time.Time `json:"sealedAt"`
	Bytes     int       `json:"bytes"`
}

type companionMessage struct {
	Type string `json:"type"`
}

type frame struct {
	kind    int
	payload []byte
}

type conn struct {
	ws    *websocket.Conn
	out   chan frame
	done  chan struct{}
	owner *Link

	closeOnce sync.Once
}

// send enqueues without blocking; a slow device drops frames rather than
// stalling the recording pipeline.
func (c *conn) send(kind int, payload []byte) {
	select {
	case c.out <- frame{kind: kind, payload: payload}:
	case <-c.done:
	default:
		c.owner.log.Warn("companion send buffer full, dropping frame")
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(1 << 20)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.owner.log.Debug("companion read ended", "error", err)
			}
			return
		}

		var msg companionMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Type == "sync" && c.owner.OnSync != nil {
			c.owner.OnSync()
		}
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case f := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(f.kind, f.payload); err != nil {
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
