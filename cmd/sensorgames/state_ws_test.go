package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"sensorgames/internal/game"
)

// decodeEnvelope parses a WS frame into its type and raw data.
func decodeEnvelope(t *testing.T, b []byte) (string, json.RawMessage) {
	t.Helper()
	var env struct {
		Type string          `json:"type"`
		Ts   *time.Time      `json:"ts"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", b, err)
	}
	if env.Ts == nil {
		t.Fatalf("frame %q has no ts", b)
	}
	return env.Type, env.Data
}

func recvFrame(t *testing.T, v *viewer) (string, json.RawMessage) {
	t.Helper()
	return decodeEnvelope(t, recvRaw(t, v))
}

func startBroadcaster(t *testing.T, hub *Hub, window time.Duration, buf int) chan<- StateBroadcast {
	t.Helper()
	src := make(chan StateBroadcast, buf)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(ctx, hub, src, window, slog.Default())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return src
}

func TestBroadcaster_CoalescesMetricUpdatesPerGame(t *testing.T) {
	hub := newTestHub(t, 32, 32)
	stopHub := runHub(t, hub)
	defer stopHub()

	v := newTestViewer(hub, "viewer", 32, "")
	joinViewer(t, hub, v)

	// A long window so only the flush before the result can emit metrics.
	src := startBroadcaster(t, hub, time.Hour, 16)

	for i := 1; i <= 5; i++ {
		src <- BroadcastMetricUpdate{Update: game.Update{Game: game.KindMotion, Metric: float64(i)}}
	}
	src <- BroadcastMetricUpdate{Update: game.Update{Game: game.KindAudio, Metric: 120}}
	src <- BroadcastResult{Result: game.Result{Game: game.KindMotion, Metric: 5, Label: "연습이 필요해요"}}

	var u game.Update
	typ, data := recvFrame(t, v)
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if typ != wsTypeMetricUpdate || u.Game != game.KindMotion || u.Metric != 5 {
		t.Fatalf("frame 1 = %s %+v, want latest motion update (metric 5)", typ, u)
	}

	typ, data = recvFrame(t, v)
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if typ != wsTypeMetricUpdate || u.Game != game.KindAudio || u.Metric != 120 {
		t.Fatalf("frame 2 = %s %+v, want audio metric 120", typ, u)
	}

	typ, data = recvFrame(t, v)
	var r game.Result
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if typ != wsTypeResult || r.Label != "연습이 필요해요" {
		t.Fatalf("frame 3 = %s %+v", typ, r)
	}
	expectNothing(t, v)
}

func TestBroadcaster_FlushesAfterWindow(t *testing.T) {
	hub := newTestHub(t, 32, 32)
	stopHub := runHub(t, hub)
	defer stopHub()

	v := newTestViewer(hub, "viewer", 32, "")
	joinViewer(t, hub, v)

	src := startBroadcaster(t, hub, 20*time.Millisecond, 4)
	src <- BroadcastMetricUpdate{Update: game.Update{Game: game.KindAudio, Metric: 60, Size: 60}}

	if typ, _ := recvFrame(t, v); typ != wsTypeMetricUpdate {
		t.Fatalf("type=%q, want %q", typ, wsTypeMetricUpdate)
	}
}

func TestBroadcaster_PublishesUnderGame(t *testing.T) {
	hub := newTestHub(t, 8, 8)
	stopHub := runHub(t, hub)
	defer stopHub()

	audioScreen := newTestViewer(hub, "audio-screen", 8, game.KindAudio)
	joinViewer(t, hub, audioScreen)

	src := startBroadcaster(t, hub, 0, 4)
	src <- BroadcastPhaseChanged{Game: game.KindMotion, Phase: game.PhasePlaying}
	src <- BroadcastPhaseChanged{Game: game.KindAudio, Phase: game.PhasePlaying}
	src <- BroadcastTimerTick{Game: game.KindAudio, SecondsLeft: 9}

	typ, data := recvFrame(t, audioScreen)
	if typ != wsTypePhaseChanged || string(data) != `{"game":"audio","phase":"playing"}` {
		t.Fatalf("got %s %s", typ, data)
	}
	typ, data = recvFrame(t, audioScreen)
	if typ != wsTypeTimerTick || string(data) != `{"game":"audio","seconds_left":9}` {
		t.Fatalf("got %s %s", typ, data)
	}
	expectNothing(t, audioScreen)
}
