package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sensorgames/internal/game"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// The daemon loop is the single executor for both game controllers:
//   - IPC and HTTP requests arrive as requestEvents and are answered on a
//     reply channel.
//   - Start opens the device on a worker goroutine so the other game keeps
//     running; the outcome comes back as a callback that finishes Start.
//   - Countdown timers and sensor subscriptions post callbacks; timers and
//     subscriptions that have been stopped are marked inactive on the loop,
//     so a callback queued before Stop is dropped when it is dispatched.
//   - Controllers are disposed when the loop exits.
//
// ============================================================================

// controller is the non-generic view of a game.Controller used by the loop.
type controller interface {
	Kind() game.Kind
	Phase() game.Phase
	Start(ctx context.Context) error
	Stop() (game.Result, bool)
	Reset()
	Dispose()
	Snapshot() game.Snapshot
}

// errUnknownGame is returned for a request naming a game the daemon does
// not run.
var errUnknownGame = errors.New("unknown game")

// Daemon owns the controllers and the event queue that drives them.
type Daemon struct {
	logger *slog.Logger
	events chan Event

	games   map[game.Kind]controller
	sources map[game.Kind]preparer
	order   []game.Kind

	pending   map[game.Kind]*pendingStart
	acquiring sync.WaitGroup
}

// pendingStart is a Start whose device is being opened off the loop.
type pendingStart struct {
	reply  chan<- Reply
	result chan error
	cancel context.CancelFunc
}

// NewDaemon returns a daemon with an empty event queue. Register games
// with AddMotion/AddAudio before calling Run.
func NewDaemon(logger *slog.Logger, queueSize int) *Daemon {
	if queueSize <= 0 {
		queueSize = eventQueueSize
	}
	return &Daemon{
		logger: logger,
		events:  make(chan Event, queueSize),
		games:   make(map[game.Kind]controller),
		sources: make(map[game.Kind]preparer),
		pending: make(map[game.Kind]*pendingStart),
	}
}

// Scheduler returns a game.Scheduler whose callbacks run on the loop.
func (d *Daemon) Scheduler() game.Scheduler {
	return &loopScheduler{events: d.events}
}

// AddMotion registers the motion game behind src.
func (d *Daemon) AddMotion(g game.Game[game.MotionSample], src game.Source[game.MotionSample], sink game.Sink, opts game.Options) {
	bridged := newBridgedSource(src, d.events, d.logger.With("game", string(g.Kind())))
	d.add(game.NewController(g, bridged, d.Scheduler(), sink, opts), bridged)
}

// AddAudio registers the audio game behind src.
func (d *Daemon) AddAudio(g game.Game[game.AudioFrame], src game.Source[game.AudioFrame], sink game.Sink, opts game.Options) {
	bridged := newBridgedSource(src, d.events, d.logger.With("game", string(g.Kind())))
	d.add(game.NewController(g, bridged, d.Scheduler(), sink, opts), bridged)
}

func (d *Daemon) add(c controller, src preparer) {
	if _, dup := d.games[c.Kind()]; !dup {
		d.order = append(d.order, c.Kind())
	}
	d.games[c.Kind()] = c
	d.sources[c.Kind()] = src
}

// Run processes events until ctx is canceled, then disposes every
// controller.
func (d *Daemon) Run(ctx context.Context) {
	defer d.disposeAll()
	defer d.abandonPending()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			return

		case ev := <-d.events:
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case callback:
		ev()

	case requestEvent:
		if _, ok := ev.Req.(StartGame); ok {
			d.beginStart(ctx, ev)
			return
		}
		data, err := d.handle(ev.Req)
		ev.Reply <- Reply{Data: data, Err: err}

	case RequestStateSnapshot:
		ev.Reply <- d.snapshots()

	default:
		d.logger.Warn("daemon dropped unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// beginStart validates a Start on the loop and opens the device on a
// worker. The reply is sent by finishStart.
func (d *Daemon) beginStart(ctx context.Context, ev requestEvent) {
	kind := ev.Req.target()
	c, ok := d.games[kind]
	if !ok {
		ev.Reply <- Reply{Err: fmt.Errorf("%w: %q", errUnknownGame, kind)}
		return
	}
	if _, busy := d.pending[kind]; busy {
		ev.Reply <- Reply{Err: fmt.Errorf("start %s game: already acquiring: %w", kind, game.ErrInvalidPhase)}
		return
	}
	if c.Phase() != game.PhaseReady {
		// Start fails on its phase check before touching the source.
		ev.Reply <- Reply{Err: c.Start(ctx)}
		return
	}

	actx, cancel := context.WithTimeout(ctx, acquireTimeout)
	p := &pendingStart{reply: ev.Reply, result: make(chan error, 1), cancel: cancel}
	d.pending[kind] = p

	src := d.sources[kind]
	d.acquiring.Add(1)
	go func() {
		defer d.acquiring.Done()
		p.result <- src.prepare(actx)
		select {
		case d.events <- callback(func() { d.finishStart(ctx, kind, p) }):
		case <-ctx.Done():
		}
	}()
}

func (d *Daemon) finishStart(ctx context.Context, kind game.Kind, p *pendingStart) {
	if d.pending[kind] != p {
		return
	}
	delete(d.pending, kind)
	p.cancel()

	c, src := d.games[kind], d.sources[kind]
	src.preset(<-p.result)
	err := c.Start(ctx)
	if lerr := src.dropPreset(); lerr != nil {
		d.logger.Warn("release unused acquisition", "game", string(kind), "error", lerr)
	}
	if err != nil {
		p.reply <- Reply{Err: err}
		return
	}
	p.reply <- Reply{Data: c.Snapshot()}
}

// abandonPending runs after the loop has stopped: it waits for acquire
// workers, releases what they opened and fails their requests.
func (d *Daemon) abandonPending() {
	for _, p := range d.pending {
		p.cancel()
	}
	d.acquiring.Wait()
	for kind, p := range d.pending {
		if err := <-p.result; err == nil {
			if rerr := d.sources[kind].abandon(); rerr != nil {
				d.logger.Warn("release on shutdown", "game", string(kind), "error", rerr)
			}
		}
		p.reply <- Reply{Err: fmt.Errorf("start %s game: %w", kind, game.ErrDisposed)}
		delete(d.pending, kind)
	}
}

func (d *Daemon) handle(req Request) (any, error) {
	c, ok := d.games[req.target()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownGame, req.target())
	}

	switch req.(type) {
	case StopGame:
		res, ok := c.Stop()
		if !ok {
			return nil, fmt.Errorf("stop %s game in phase %s: %w", c.Kind(), c.Phase(), game.ErrInvalidPhase)
		}
		return res, nil

	case ResetGame:
		c.Reset()
		return c.Snapshot(), nil

	case GetStatus:
		return c.Snapshot(), nil

	default:
		return nil, fmt.Errorf("unsupported request type: %T", req)
	}
}

func (d *Daemon) snapshots() []game.Snapshot {
	out := make([]game.Snapshot, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.games[k].Snapshot())
	}
	return out
}

func (d *Daemon) disposeAll() {
	for _, k := range d.order {
		d.games[k].Dispose()
	}
}

// Do sends req through the loop and waits for its reply.
func (d *Daemon) Do(ctx context.Context, req Request) (any, error) {
	reply := make(chan Reply, 1)
	select {
	case d.events <- requestEvent{Req: req, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.Data, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshots returns every game's snapshot, in registration order.
func (d *Daemon) Snapshots(ctx context.Context) ([]game.Snapshot, error) {
	reply := make(chan []game.Snapshot, 1)
	select {
	case d.events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case snaps := <-reply:
		return snaps, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ============================================================================
// Loop scheduler
// ============================================================================

type loopScheduler struct {
	events chan<- Event
}

// loopTimer posts a callback per tick. stopped is only read and written on
// the loop; done releases the ticker goroutine.
type loopTimer struct {
	stopped bool
	done    chan struct{}
	once    sync.Once
}

func (s *loopScheduler) Every(d time.Duration, fn func()) game.Timer {
	t := &loopTimer{done: make(chan struct{})}
	ticker := time.NewTicker(d)

	tick := callback(func() {
		if !t.stopped {
			fn()
		}
	})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				// Ticks are never dropped; a lost tick would stretch the game.
				select {
				case s.events <- tick:
				case <-t.done:
					return
				}
			}
		}
	}()
	return t
}

func (t *loopTimer) Stop() {
	t.stopped = true
	t.once.Do(func() { close(t.done) })
}

// ============================================================================
// Source bridge
// ============================================================================

// bridgedSource moves a source's callbacks onto the daemon loop. Samples
// are posted without blocking; when the queue is full they are dropped.
type bridgedSource[T any] struct {
	inner  game.Source[T]
	events chan<- Event
	logger *slog.Logger

	sub *subscription

	// An acquisition made off the loop, handed to the next Acquire.
	presetErr error
	hasPreset bool
}

// preparer is the loop's non-generic view of a bridgedSource.
type preparer interface {
	// prepare opens the device; it is the only method safe off the loop.
	prepare(ctx context.Context) error
	preset(err error)
	// dropPreset releases a successful preset nobody consumed.
	dropPreset() error
	abandon() error
}

// subscription is the loop-side handle of one Subscribe call.
type subscription struct {
	active  bool
	done    chan struct{}
	dropped atomic.Int64
}

func newBridgedSource[T any](inner game.Source[T], events chan<- Event, logger *slog.Logger) *bridgedSource[T] {
	return &bridgedSource[T]{inner: inner, events: events, logger: logger}
}

func (b *bridgedSource[T]) Acquire(ctx context.Context) error {
	if b.hasPreset {
		err := b.presetErr
		b.presetErr, b.hasPreset = nil, false
		return err
	}
	return b.inner.Acquire(ctx)
}

func (b *bridgedSource[T]) prepare(ctx context.Context) error {
	return b.inner.Acquire(ctx)
}

func (b *bridgedSource[T]) preset(err error) {
	b.presetErr, b.hasPreset = err, true
}

func (b *bridgedSource[T]) dropPreset() error {
	if !b.hasPreset {
		return nil
	}
	err := b.presetErr
	b.presetErr, b.hasPreset = nil, false
	if err != nil {
		return nil
	}
	return b.inner.Release()
}

func (b *bridgedSource[T]) abandon() error {
	return b.inner.Release()
}

func (b *bridgedSource[T]) Subscribe(fn func(T)) error {
	sub := &subscription{active: true, done: make(chan struct{})}

	err := b.inner.Subscribe(func(v T) {
		ev := callback(func() {
			if sub.active {
				fn(v)
			}
		})
		select {
		case <-sub.done:
		case b.events <- ev:
		default:
			sub.dropped.Add(1)
		}
	})
	if err != nil {
		return err
	}

	b.sub = sub
	return nil
}

func (b *bridgedSource[T]) Release() error {
	if sub := b.sub; sub != nil {
		sub.active = false
		close(sub.done)
		b.sub = nil
		if n := sub.dropped.Load(); n > 0 {
			b.logger.Warn("samples dropped (daemon queue full)", "count", n)
		}
	}
	return b.inner.Release()
}
