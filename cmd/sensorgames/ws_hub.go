package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sensorgames/internal/game"
)

// frame is one serialized envelope. An empty game marks a frame that every
// viewer receives regardless of its filter.
type frame struct {
	game game.Kind
	data []byte
}

// direct is a frame addressed to a single viewer (state_init).
type direct struct {
	to   *viewer
	data []byte
}

// Hub fans frames out to connected viewers. The viewer set is owned by
// Run; other goroutines talk to it through channels only.
type Hub struct {
	logger *slog.Logger

	frames chan frame
	direct chan direct
	join   chan *viewer
	leave  chan *viewer
	done   chan struct{}

	viewers map[*viewer]struct{}
	count   atomic.Int32

	queueLen int
}

type HubConfig struct {
	// QueueLen is each viewer's outbound queue. A viewer whose queue is
	// full when a frame arrives is disconnected. Zero means 64.
	QueueLen int

	// FrameBuf is the hub's inbound frame queue. Zero means 128.
	FrameBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 64
	}
	if cfg.FrameBuf <= 0 {
		cfg.FrameBuf = 128
	}
	return &Hub{
		logger:   logger,
		frames:   make(chan frame, cfg.FrameBuf),
		direct:   make(chan direct, 16),
		join:     make(chan *viewer),
		leave:    make(chan *viewer),
		done:     make(chan struct{}),
		viewers:  make(map[*viewer]struct{}),
		queueLen: cfg.QueueLen,
	}
}

// Run serves joins, leaves and frames until ctx is canceled, then
// disconnects every viewer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for v := range h.viewers {
				h.evict(v, "shutdown")
			}
			return

		case v := <-h.join:
			h.viewers[v] = struct{}{}
			h.count.Store(int32(len(h.viewers)))
			h.logger.Info("ws viewer joined", "remote_addr", v.addr, "game", string(v.only), "viewers", len(h.viewers))

		case v := <-h.leave:
			h.evict(v, "closed")

		case d := <-h.direct:
			if _, ok := h.viewers[d.to]; ok {
				h.deliver(d.to, d.data)
			}

		case f := <-h.frames:
			for v := range h.viewers {
				if v.wants(f.game) {
					h.deliver(v, f.data)
				}
			}
		}
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Publish queues a frame for the viewers of g, or for everyone when g is
// empty. It never blocks; the frame is dropped when the hub queue is full.
func (h *Hub) Publish(g game.Kind, data []byte) {
	select {
	case h.frames <- frame{game: g, data: data}:
	default:
		h.logger.Warn("ws hub queue full, dropping frame", "game", string(g), "bytes", len(data))
	}
}

// sendTo queues data for v alone. It gives up if the hub has stopped.
func (h *Hub) sendTo(v *viewer, data []byte) {
	select {
	case h.direct <- direct{to: v, data: data}:
	case <-h.done:
	}
}

func (h *Hub) register(v *viewer) bool {
	select {
	case h.join <- v:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(v *viewer) {
	select {
	case h.leave <- v:
	case <-h.done:
	}
}

// deliver must run on Run's goroutine.
func (h *Hub) deliver(v *viewer, data []byte) {
	select {
	case v.out <- data:
	default:
		h.evict(v, "slow_client")
	}
}

// evict removes v and closes its queue, which stops its write pump. It
// must run on Run's goroutine; a viewer is only ever closed once because
// only members of the set are closed.
func (h *Hub) evict(v *viewer, reason string) {
	if _, ok := h.viewers[v]; !ok {
		return
	}
	delete(h.viewers, v)
	h.count.Store(int32(len(h.viewers)))
	close(v.out)
	if v.conn != nil {
		_ = v.conn.Close()
	}
	h.logger.Info("ws viewer left", "remote_addr", v.addr, "reason", reason, "viewers", len(h.viewers))
}

// ============================================================================
// Viewer
// ============================================================================

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// viewer is one presentation connection, optionally following one game.
type viewer struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	addr   string
	only   game.Kind
	logger *slog.Logger
}

func newViewer(hub *Hub, conn *websocket.Conn, addr string, only game.Kind, logger *slog.Logger) *viewer {
	return &viewer{
		hub:    hub,
		conn:   conn,
		out:    make(chan []byte, hub.queueLen),
		addr:   addr,
		only:   only,
		logger: logger,
	}
}

func (v *viewer) wants(g game.Kind) bool {
	return g == "" || v.only == "" || v.only == g
}

func (v *viewer) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, websocket.ErrBadHandshake) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		v.logger.Debug("ws "+pump+" closed by peer", "remote_addr", v.addr, "code", ce.Code, "reason", ce.Text)
		return
	}
	v.logger.Debug("ws "+pump+" stopped", "remote_addr", v.addr, "error", err)
}

// pumpOut writes queued frames and keepalive pings until the hub closes
// the queue or a write fails.
func (v *viewer) pumpOut() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-v.out:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				v.logExit("write", err)
				v.hub.unregister(v)
				return
			}

		case <-ping.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				v.logExit("ping", err)
				v.hub.unregister(v)
				return
			}
		}
	}
}

// pumpIn discards inbound messages; viewers only listen. It exists to
// process pongs and notice disconnects.
func (v *viewer) pumpIn() {
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			v.logExit("read", err)
			v.hub.unregister(v)
			return
		}
	}
}
