package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultDuration is the length of one game.
const DefaultDuration = 10 * time.Second

// Source is a raw sample stream. Acquire covers permission prompts and
// device opening; Release must be idempotent and safe to call without a
// prior successful Acquire.
type Source[T any] interface {
	Acquire(ctx context.Context) error
	Subscribe(fn func(T)) error
	Release() error
}

// Timer is a cancellable periodic callback.
type Timer interface {
	Stop()
}

// Scheduler runs periodic callbacks on the controller's executor. A Timer
// that has been stopped must never invoke its callback again, even if a
// tick was already pending.
type Scheduler interface {
	Every(d time.Duration, fn func()) Timer
}

// Sink receives presentation events. Implementations must not block and
// must not call back into the controller.
type Sink interface {
	OnPhaseChange(game Kind, phase Phase)
	OnTimerTick(game Kind, secondsLeft int)
	OnMetricUpdate(u Update)
	OnResult(r Result)
}

// Options configures a Controller.
type Options struct {
	// Duration is the game length; it is counted down in Tick steps.
	Duration time.Duration
	Tick     time.Duration

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Controller runs the Ready -> Playing -> Result lifecycle of one game.
//
// All methods, and all callbacks delivered through Source and Scheduler,
// must run on a single goroutine. The controller performs no locking.
type Controller[T any] struct {
	game  Game[T]
	src   Source[T]
	sched Scheduler
	sink  Sink

	tick   time.Duration
	ticks  int
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	phase     Phase
	remaining int
	timer     Timer
	disposed  bool

	sessionID string
	startedAt time.Time
	result    *Result
}

// NewController wires a game to its source, scheduler and sink.
func NewController[T any](g Game[T], src Source[T], sched Scheduler, sink Sink, opts Options) *Controller[T] {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	ticks := int(opts.Duration / opts.Tick)
	if ticks < 1 {
		ticks = 1
	}
	return &Controller[T]{
		game:      g,
		src:       src,
		sched:     sched,
		sink:      sink,
		tick:      opts.Tick,
		ticks:     ticks,
		logger:    opts.Logger.With("game", string(g.Kind())),
		now:       opts.Now,
		newID:     opts.NewID,
		phase:     PhaseReady,
		remaining: ticks,
	}
}

// Kind returns the game this controller runs.
func (c *Controller[T]) Kind() Kind { return c.game.Kind() }

// Phase returns the current lifecycle phase.
func (c *Controller[T]) Phase() Phase { return c.phase }

// Start acquires the source and begins a session. On failure the
// controller stays Ready and the error is a *StartError wrapping
// ErrPermissionDenied or ErrDeviceUnavailable.
func (c *Controller[T]) Start(ctx context.Context) error {
	if c.disposed {
		return ErrDisposed
	}
	if c.phase != PhaseReady {
		return fmt.Errorf("start %s game in phase %s: %w", c.game.Kind(), c.phase, ErrInvalidPhase)
	}

	if err := c.src.Acquire(ctx); err != nil {
		c.releaseSource()
		serr := &StartError{Game: c.game.Kind(), Err: classifyAcquireErr(err)}
		c.logger.Warn("start failed", "error", serr)
		return serr
	}

	// Callbacks only run on our executor, so nothing is delivered before
	// Start returns; subscribing first keeps a failed subscribe free of
	// any state change.
	if err := c.src.Subscribe(c.onSample); err != nil {
		c.releaseSource()
		serr := &StartError{Game: c.game.Kind(), Err: classifyAcquireErr(err)}
		c.logger.Warn("subscribe failed", "error", serr)
		return serr
	}

	c.game.Reset()
	c.sessionID = c.newID()
	c.startedAt = c.now()
	c.result = nil
	c.remaining = c.ticks
	c.phase = PhasePlaying
	c.timer = c.sched.Every(c.tick, c.onTick)

	c.logger.Info("game started", "session_id", c.sessionID, "seconds", c.remaining)
	c.sink.OnPhaseChange(c.game.Kind(), PhasePlaying)
	c.sink.OnTimerTick(c.game.Kind(), c.remaining)
	c.sink.OnMetricUpdate(Update{Game: c.game.Kind(), Metric: c.game.Metric()})
	return nil
}

// Stop ends a running session and classifies it. It reports false, and
// does nothing, unless the controller is Playing.
func (c *Controller[T]) Stop() (Result, bool) {
	if c.phase != PhasePlaying {
		return Result{}, false
	}

	c.teardown()
	c.phase = PhaseResult

	res := c.game.Finish()
	res.SessionID = c.sessionID
	res.StartedAt = c.startedAt
	res.EndedAt = c.now()
	c.result = &res

	c.logger.Info("game finished", "session_id", res.SessionID, "metric", res.Metric, "score", res.Score, "label", res.Label)
	c.sink.OnPhaseChange(c.game.Kind(), PhaseResult)
	c.sink.OnResult(res)
	return res, true
}

// Reset returns the controller to Ready from any phase. A running session
// is torn down without being classified.
func (c *Controller[T]) Reset() {
	if c.phase == PhasePlaying {
		c.teardown()
	}
	c.game.Reset()
	c.remaining = c.ticks
	c.result = nil
	c.sessionID = ""
	c.startedAt = time.Time{}

	prev := c.phase
	c.phase = PhaseReady
	if prev != PhaseReady {
		c.logger.Debug("game reset", "from", prev.String())
		c.sink.OnPhaseChange(c.game.Kind(), PhaseReady)
	}
}

// Dispose releases every resource. It may be called more than once and in
// any phase; Start fails afterwards.
func (c *Controller[T]) Dispose() {
	if c.disposed {
		return
	}
	c.teardown()
	c.disposed = true
	if c.phase == PhasePlaying {
		c.phase = PhaseReady
	}
	c.logger.Debug("controller disposed")
}

// Snapshot describes the controller's current state.
func (c *Controller[T]) Snapshot() Snapshot {
	snap := Snapshot{
		Game:          c.game.Kind(),
		Phase:         c.phase,
		TimeRemaining: c.remaining,
		Metric:        c.game.Metric(),
		SessionID:     c.sessionID,
	}
	if c.result != nil {
		r := *c.result
		snap.Result = &r
	}
	return snap
}

func (c *Controller[T]) onTick() {
	if c.phase != PhasePlaying {
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	c.sink.OnTimerTick(c.game.Kind(), c.remaining)
	if c.remaining == 0 {
		c.Stop()
	}
}

func (c *Controller[T]) onSample(s T) {
	// Deliveries queued before Stop may still arrive afterwards.
	if c.phase != PhasePlaying {
		return
	}
	upd, ok := c.game.Apply(s)
	if !ok {
		return
	}
	if upd.Pulse {
		c.logger.Debug("pulse", "metric", upd.Metric, "level", upd.Level)
	}
	c.sink.OnMetricUpdate(upd)
}

func (c *Controller[T]) teardown() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.releaseSource()
}

func (c *Controller[T]) releaseSource() {
	if err := c.src.Release(); err != nil {
		c.logger.Warn("source release failed", "error", err)
	}
}
