package main

import (
	"log/slog"
	"time"

	"sensorgames/internal/game"
)

// StateBroadcast is a presentation event emitted by a controller, waiting
// to be converted into a WS message by the broadcaster.
type StateBroadcast interface {
	broadcastMarker()
}

type BroadcastPhaseChanged struct {
	Game  game.Kind
	Phase game.Phase
	At    time.Time
}

type BroadcastTimerTick struct {
	Game        game.Kind
	SecondsLeft int
	At          time.Time
}

type BroadcastMetricUpdate struct {
	Update game.Update
	At     time.Time
}

type BroadcastResult struct {
	Result game.Result
	At     time.Time
}

func (BroadcastPhaseChanged) broadcastMarker() {}
func (BroadcastTimerTick) broadcastMarker()    {}
func (BroadcastMetricUpdate) broadcastMarker() {}
func (BroadcastResult) broadcastMarker()       {}

// broadcastSink implements game.Sink by queueing StateBroadcasts. It runs
// on the daemon loop and never blocks it: when the queue is full the event
// is dropped and logged.
type broadcastSink struct {
	out    chan<- StateBroadcast
	now    func() time.Time
	logger *slog.Logger
}

func newBroadcastSink(out chan<- StateBroadcast, logger *slog.Logger) *broadcastSink {
	return &broadcastSink{out: out, now: time.Now, logger: logger}
}

func (s *broadcastSink) emit(b StateBroadcast) {
	select {
	case s.out <- b:
	default:
		s.logger.Warn("broadcast queue full, dropping event", "type", broadcastType(b))
	}
}

func (s *broadcastSink) OnPhaseChange(g game.Kind, phase game.Phase) {
	s.emit(BroadcastPhaseChanged{Game: g, Phase: phase, At: s.now().UTC()})
}

func (s *broadcastSink) OnTimerTick(g game.Kind, secondsLeft int) {
	s.emit(BroadcastTimerTick{Game: g, SecondsLeft: secondsLeft, At: s.now().UTC()})
}

func (s *broadcastSink) OnMetricUpdate(u game.Update) {
	s.emit(BroadcastMetricUpdate{Update: u, At: s.now().UTC()})
}

func (s *broadcastSink) OnResult(r game.Result) {
	s.emit(BroadcastResult{Result: r, At: s.now().UTC()})
}
