package game

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newMotionController(t *testing.T) (*Controller[MotionSample], *fakeSource[MotionSample], *fakeScheduler, *recordingSink) {
	t.Helper()
	src := &fakeSource[MotionSample]{}
	sched := &fakeScheduler{}
	sink := &recordingSink{}
	c := NewController[MotionSample](NewMotionGame(MotionConfig{}, StepRanks()), src, sched, sink, testOptions())
	return c, src, sched, sink
}

func newAudioController(t *testing.T) (*Controller[AudioFrame], *fakeSource[AudioFrame], *fakeScheduler, *recordingSink) {
	t.Helper()
	src := &fakeSource[AudioFrame]{}
	sched := &fakeScheduler{}
	sink := &recordingSink{}
	c := NewController[AudioFrame](NewAudioGame(SizeRanks()), src, sched, sink, testOptions())
	return c, src, sched, sink
}

func TestController_MotionEndToEnd(t *testing.T) {
	c, src, sched, sink := newMotionController(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.Phase() != PhasePlaying {
		t.Fatalf("phase=%s, want playing", c.Phase())
	}
	if len(sched.timers) != 1 || sched.timers[0].d != time.Second {
		t.Fatalf("expected one 1s countdown timer, got %+v", sched.timers)
	}

	fn := src.fn
	src.emit(fn, MotionSample{X: 0, Y: 0, Z: 0, TimestampMs: 0})
	src.emit(fn, MotionSample{X: 20, Y: 0, Z: 0, TimestampMs: 150})
	src.emit(fn, MotionSample{X: 20, Y: 0, Z: 0, TimestampMs: 200})

	if got := c.Snapshot().Metric; got != 1 {
		t.Fatalf("metric=%v, want 1", got)
	}

	sched.fire(10)

	if c.Phase() != PhaseResult {
		t.Fatalf("phase=%s after countdown, want result", c.Phase())
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected exactly one result, got %d", len(sink.results))
	}
	res := sink.results[0]
	if res.Metric != 1 || res.Label != "연습이 필요해요" {
		t.Fatalf("result=%+v, want metric 1 / 연습이 필요해요", res)
	}
	if res.SessionID != "session-1" {
		t.Fatalf("session id=%q", res.SessionID)
	}

	wantTicks := []int{10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0}
	if len(sink.ticks) != len(wantTicks) {
		t.Fatalf("ticks=%v, want %v", sink.ticks, wantTicks)
	}
	for i := range wantTicks {
		if sink.ticks[i] != wantTicks[i] {
			t.Fatalf("ticks=%v, want %v", sink.ticks, wantTicks)
		}
	}

	if !sched.timers[0].stopped {
		t.Fatalf("countdown must be cancelled on stop")
	}
	if src.releaseCalls == 0 || src.fn != nil {
		t.Fatalf("source must be released on stop")
	}

	// A lingering callback after stop must not touch the metric.
	src.emit(fn, MotionSample{X: 100, TimestampMs: 10_000})
	src.emit(fn, MotionSample{X: 0, TimestampMs: 10_500})
	if got := c.Snapshot().Metric; got != 1 {
		t.Fatalf("metric changed after stop: %v", got)
	}
}

func TestController_AudioEndToEnd(t *testing.T) {
	c, src, _, sink := newAudioController(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := c.Snapshot().Metric; got != MinSize {
		t.Fatalf("initial metric=%v, want %v", got, MinSize)
	}

	src.emit(src.fn, frameOf(256, 100))

	last := sink.updates[len(sink.updates)-1]
	if last.Level != 1 || last.Size != 400 || last.Metric != 400 {
		t.Fatalf("update=%+v, want volume 1 / size 400 / peak 400", last)
	}

	res, ok := c.Stop()
	if !ok {
		t.Fatalf("Stop reported not playing")
	}
	if res.Score != 100 || res.Label != "메가 오렌지" || res.Peak != 400 {
		t.Fatalf("result=%+v, want score 100 / 메가 오렌지", res)
	}
}

func TestController_StopTwiceIsNoop(t *testing.T) {
	c, _, sched, sink := newMotionController(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sched.fire(3)

	if _, ok := c.Stop(); !ok {
		t.Fatalf("first Stop must succeed")
	}
	ticks := len(sink.ticks)
	remaining := c.Snapshot().TimeRemaining

	if _, ok := c.Stop(); ok {
		t.Fatalf("second Stop must be a no-op")
	}
	// A stale countdown tick after stop is ignored as well.
	sched.timers[0].fn()

	if len(sink.results) != 1 {
		t.Fatalf("results=%d, want 1", len(sink.results))
	}
	if len(sink.ticks) != ticks || c.Snapshot().TimeRemaining != remaining {
		t.Fatalf("countdown changed after stop")
	}
}

func TestController_StartFailureLeavesReady(t *testing.T) {
	tests := []struct {
		name       string
		acquireErr error
		subErr     error
		want       error
	}{
		{"permission denied", ErrPermissionDenied, nil, ErrPermissionDenied},
		{"wrapped permission", errors.Join(errors.New("EACCES"), ErrPermissionDenied), nil, ErrPermissionDenied},
		{"device unavailable", ErrDeviceUnavailable, nil, ErrDeviceUnavailable},
		{"unclassified", errors.New("boom"), nil, ErrDeviceUnavailable},
		{"subscribe failure", nil, errors.New("no stream"), ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, src, sched, sink := newMotionController(t)
			src.acquireErr = tt.acquireErr
			src.subscribeErr = tt.subErr

			err := c.Start(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, want %v", err, tt.want)
			}
			var serr *StartError
			if !errors.As(err, &serr) || serr.Game != KindMotion {
				t.Fatalf("expected *StartError for motion, got %T", err)
			}
			if c.Phase() != PhaseReady {
				t.Fatalf("phase=%s, want ready", c.Phase())
			}
			if len(sched.timers) != 0 {
				t.Fatalf("no timer may start on failure")
			}
			if len(sink.phases) != 0 || len(sink.ticks) != 0 {
				t.Fatalf("no presentation events expected on failure")
			}
			if src.releaseCalls == 0 {
				t.Fatalf("partial acquisition must be released")
			}

			// Retriable: the user may call Start again.
			src.acquireErr = nil
			src.subscribeErr = nil
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("retry Start: %v", err)
			}
		})
	}
}

func TestController_PhasePreconditions(t *testing.T) {
	c, _, _, _ := newMotionController(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("Start while playing: err=%v", err)
	}
	c.Stop()
	if err := c.Start(context.Background()); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("Start from result: err=%v", err)
	}
	c.Reset()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}
}

func TestController_ResetClearsState(t *testing.T) {
	c, src, sched, sink := newMotionController(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.emit(src.fn, MotionSample{TimestampMs: 0})
	src.emit(src.fn, MotionSample{X: 30, TimestampMs: 200})
	sched.fire(4)
	c.Stop()

	c.Reset()
	snap := c.Snapshot()
	if snap.Phase != PhaseReady || snap.Metric != 0 || snap.TimeRemaining != 10 || snap.Result != nil || snap.SessionID != "" {
		t.Fatalf("snapshot after reset=%+v", snap)
	}

	// Reset is idempotent.
	phases := len(sink.phases)
	c.Reset()
	if len(sink.phases) != phases {
		t.Fatalf("repeated reset must not republish phase")
	}

	// New session gets a fresh reducer: first sample seeds again.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.emit(src.fn, MotionSample{X: 500, TimestampMs: 5000})
	if got := c.Snapshot().Metric; got != 0 {
		t.Fatalf("first sample of new session produced metric %v", got)
	}
	if c.Snapshot().SessionID != "session-2" {
		t.Fatalf("expected new session id, got %q", c.Snapshot().SessionID)
	}
}

func TestController_ResetWhilePlayingTearsDown(t *testing.T) {
	c, src, sched, sink := newAudioController(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fn := src.fn
	src.emit(fn, frameOf(16, 80))

	c.Reset()
	if !sched.timers[0].stopped || src.fn != nil {
		t.Fatalf("reset must cancel timer and release source")
	}
	if len(sink.results) != 0 {
		t.Fatalf("reset must not classify")
	}
	src.emit(fn, frameOf(16, 100))
	if got := c.Snapshot().Metric; got != MinSize {
		t.Fatalf("peak after reset=%v, want floor", got)
	}
}

func TestController_DisposeIsIdempotent(t *testing.T) {
	c, src, sched, _ := newMotionController(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Dispose()
	released := src.releaseCalls
	c.Dispose()

	if !sched.timers[0].stopped {
		t.Fatalf("dispose must cancel the countdown")
	}
	if src.releaseCalls != released {
		t.Fatalf("second dispose released again")
	}
	c.Reset()
	if err := c.Start(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Start after dispose: err=%v", err)
	}
}

func TestController_CustomDuration(t *testing.T) {
	src := &fakeSource[MotionSample]{}
	sched := &fakeScheduler{}
	sink := &recordingSink{}
	opts := testOptions()
	opts.Duration = 3 * time.Second
	c := NewController[MotionSample](NewMotionGame(MotionConfig{}, StepRanks()), src, sched, sink, opts)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sched.fire(2)
	if c.Phase() != PhasePlaying {
		t.Fatalf("stopped early")
	}
	sched.fire(1)
	if c.Phase() != PhaseResult {
		t.Fatalf("phase=%s after 3 ticks, want result", c.Phase())
	}
}
