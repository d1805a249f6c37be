package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sensorgames/internal/game"
)

// ============================================================================
// Presentation WebSocket
// ============================================================================
//
// GET /ws streams JSON text frames {type, ts, data} to kiosk screens. The
// first frame is "state_init" with the snapshots of every game, or of one
// game when the screen connects with ?game=motion|audio; later frames
// are filtered the same way. The hub itself lives in ws_hub.go.
//
// ============================================================================

// WS message types.
const (
	wsTypeStateInit    = "state_init"
	wsTypePhaseChanged = "phase_changed"
	wsTypeTimerTick    = "timer_tick"
	wsTypeMetricUpdate = "metric_update"
	wsTypeResult       = "result"
)

// wsStateInitData is the JSON `data` payload for "state_init".
type wsStateInitData struct {
	Games []game.Snapshot `json:"games"`
}

// wsPhaseChangedData is the JSON `data` payload for "phase_changed".
type wsPhaseChangedData struct {
	Game  game.Kind  `json:"game"`
	Phase game.Phase `json:"phase"`
}

// wsTimerTickData is the JSON `data` payload for "timer_tick".
type wsTimerTickData struct {
	Game        game.Kind `json:"game"`
	SecondsLeft int       `json:"seconds_left"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Game game.Kind
	Data any
	At   time.Time // optional timestamp; zero means use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// snapshotter provides the state_init payload.
type snapshotter interface {
	Snapshots(ctx context.Context) ([]game.Snapshot, error)
}

type Server struct {
	logger *slog.Logger
	hub    *Hub
	state  snapshotter
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the presentation server. Mount handleStateWS, run
// Hub().Run(ctx) and feed the hub with RunBroadcaster.
func NewServer(logger *slog.Logger, state snapshotter, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		state:  state,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

var upgrader = websocket.Upgrader{
	// The daemon serves a local kiosk display; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades, joins the hub, then queues state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	var only game.Kind
	if q := r.URL.Query().Get("game"); q != "" {
		k, err := game.ParseKind(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		only = k
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	v := newViewer(s.hub, conn, r.RemoteAddr, only, s.logger)
	if !s.hub.register(v) {
		_ = conn.Close()
		return
	}

	// The pumps outlive the request; the hub and socket errors end them.
	go v.pumpOut()
	go v.pumpIn()

	if s.state == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	snaps, err := s.state.Snapshots(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}
	if only != "" {
		kept := snaps[:0:0]
		for _, sn := range snaps {
			if sn.Game == only {
				kept = append(kept, sn)
			}
		}
		snaps = kept
	}

	now := time.Now().UTC()
	initMsg, err := json.Marshal(envelope{
		Type: wsTypeStateInit,
		Ts:   &now,
		Data: wsStateInitData{Games: snaps},
	})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	s.hub.sendTo(v, initMsg)
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster marshals controller broadcasts and publishes them on the
// hub under their game. Run exactly one.
//
// metric_update bursts are rate-limited per game: the latest pending
// update is flushed at most once every window, even if updates keep
// arriving. Any other event flushes pending updates first, so a result is
// never overtaken by a stale metric.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, window time.Duration, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}
	if window <= 0 {
		window = metricCoalesceWindow
	}

	pending := make(map[game.Kind]wsOutboundEvent)
	var order []game.Kind
	var timer *time.Timer
	var timerCh <-chan time.Time

	send := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		msg, err := json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.Publish(ev.Game, msg)
	}

	flushPending := func() {
		for _, k := range order {
			send(pending[k])
			delete(pending, k)
		}
		order = order[:0]
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			// Best-effort: flush pending updates before exit.
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			hadPending := len(order) > 0
			flushPending()
			// Keep ticking only while updates keep arriving.
			if hadPending {
				timer.Reset(window)
			} else {
				stopTimer()
			}

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == wsTypeMetricUpdate {
				// Latest-wins; do NOT reset the timer on each update.
				if _, seen := pending[ev.Game]; !seen {
					order = append(order, ev.Game)
				}
				pending[ev.Game] = ev
				if timer == nil {
					timer = time.NewTimer(window)
					timerCh = timer.C
				}
				continue
			}

			// Non-metric event: flush pending metrics first, then emit this event immediately.
			flushPending()
			send(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastPhaseChanged:
		return wsOutboundEvent{
			Type: wsTypePhaseChanged,
			Game: ev.Game,
			Data: wsPhaseChangedData{Game: ev.Game, Phase: ev.Phase},
			At:   ev.At,
		}, true

	case BroadcastTimerTick:
		return wsOutboundEvent{
			Type: wsTypeTimerTick,
			Game: ev.Game,
			Data: wsTimerTickData{Game: ev.Game, SecondsLeft: ev.SecondsLeft},
			At:   ev.At,
		}, true

	case BroadcastMetricUpdate:
		return wsOutboundEvent{
			Type: wsTypeMetricUpdate,
			Game: ev.Update.Game,
			Data: ev.Update,
			At:   ev.At,
		}, true

	case BroadcastResult:
		return wsOutboundEvent{
			Type: wsTypeResult,
			Game: ev.Result.Game,
			Data: ev.Result,
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}

// broadcastType returns the WS message type for b, for logging.
func broadcastType(b StateBroadcast) string {
	if ev, ok := convertBroadcast(b); ok {
		return ev.Type
	}
	return "unknown"
}
