package game

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// fakeSource is a test double for Source. Tests push samples with emit.
type fakeSource[T any] struct {
	acquireErr   error
	subscribeErr error

	acquired     bool
	acquireCalls int
	releaseCalls int
	fn           func(T)
}

func (s *fakeSource[T]) Acquire(ctx context.Context) error {
	s.acquireCalls++
	if s.acquireErr != nil {
		return s.acquireErr
	}
	s.acquired = true
	return nil
}

func (s *fakeSource[T]) Subscribe(fn func(T)) error {
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.fn = fn
	return nil
}

func (s *fakeSource[T]) Release() error {
	s.releaseCalls++
	s.acquired = false
	s.fn = nil
	return nil
}

// emit delivers a sample the way a lingering callback would: the captured
// callback is used even after Release.
func (s *fakeSource[T]) emit(fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}

// fakeScheduler records timers; tests fire them by hand.
type fakeScheduler struct {
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() { t.stopped = true }

func (s *fakeScheduler) Every(d time.Duration, fn func()) Timer {
	t := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) active() *fakeTimer {
	for _, t := range s.timers {
		if !t.stopped {
			return t
		}
	}
	return nil
}

// fire runs n ticks of the active timer, honoring Stop between ticks.
func (s *fakeScheduler) fire(n int) {
	for i := 0; i < n; i++ {
		t := s.active()
		if t == nil {
			return
		}
		t.fn()
	}
}

// recordingSink collects every presentation event.
type recordingSink struct {
	phases  []Phase
	ticks   []int
	updates []Update
	results []Result
}

func (r *recordingSink) OnPhaseChange(_ Kind, p Phase) {
	r.phases = append(r.phases, p)
}

func (r *recordingSink) OnTimerTick(_ Kind, left int) {
	r.ticks = append(r.ticks, left)
}

func (r *recordingSink) OnMetricUpdate(u Update) {
	r.updates = append(r.updates, u)
}

func (r *recordingSink) OnResult(res Result) {
	r.results = append(r.results, res)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testOptions() Options {
	n := 0
	t0 := time.Unix(1700000000, 0).UTC()
	newID := func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
	return Options{
		Logger: testLogger(),
		Now:    func() time.Time { return t0 },
		NewID:  newID,
	}
}
