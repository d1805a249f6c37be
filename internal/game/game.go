package game

import "math"

// Game binds a reducer to the accumulated metric and the rank table of one
// mini-game. Controller drives it; implementations need no locking.
type Game[T any] interface {
	Kind() Kind

	// Reset restores the accumulated metric and reducer state to their
	// initial values.
	Reset()

	// Apply reduces one sample. The bool reports whether the update should
	// be published.
	Apply(sample T) (Update, bool)

	// Metric returns the accumulated metric.
	Metric() float64

	// Finish classifies the accumulated metric. Session bookkeeping fields
	// (ID, timestamps) are filled in by the controller.
	Finish() Result
}

// MotionGame counts shake pulses.
type MotionGame struct {
	reducer *MotionReducer
	ranks   RankTable
	steps   int
}

// NewMotionGame creates the shake-counting game.
func NewMotionGame(cfg MotionConfig, ranks RankTable) *MotionGame {
	return &MotionGame{
		reducer: NewMotionReducer(cfg),
		ranks:   ranks,
	}
}

func (g *MotionGame) Kind() Kind { return KindMotion }

func (g *MotionGame) Reset() {
	g.reducer.Reset()
	g.steps = 0
}

func (g *MotionGame) Apply(s MotionSample) (Update, bool) {
	r := g.reducer.Reduce(s)
	if !r.Processed {
		return Update{}, false
	}
	upd := Update{
		Game:  KindMotion,
		Level: float64(r.Intensity),
		Pulse: r.Pulse,
	}
	if r.Pulse {
		g.steps++
		upd.SpeedTier = SpeedTier(r.Intensity)
	}
	upd.Metric = float64(g.steps)
	return upd, true
}

func (g *MotionGame) Metric() float64 { return float64(g.steps) }

// Steps returns the pulse count of the current session.
func (g *MotionGame) Steps() int { return g.steps }

func (g *MotionGame) Finish() Result {
	return Result{
		Game:   KindMotion,
		Metric: float64(g.steps),
		Score:  g.steps,
		Label:  g.ranks.Classify(float64(g.steps)),
	}
}

// AudioGame grows a shape with microphone loudness and keeps its peak.
type AudioGame struct {
	reducer *AudioReducer
	ranks   RankTable
}

// NewAudioGame creates the loudness game.
func NewAudioGame(ranks RankTable) *AudioGame {
	return &AudioGame{
		reducer: NewAudioReducer(),
		ranks:   ranks,
	}
}

func (g *AudioGame) Kind() Kind { return KindAudio }

func (g *AudioGame) Reset() { g.reducer.Reset() }

func (g *AudioGame) Apply(f AudioFrame) (Update, bool) {
	r := g.reducer.Reduce(f)
	return Update{
		Game:   KindAudio,
		Metric: r.Peak,
		Level:  r.Volume,
		Size:   r.Size,
	}, true
}

func (g *AudioGame) Metric() float64 { return g.reducer.Peak() }

func (g *AudioGame) Finish() Result {
	peak := g.reducer.Peak()
	pct := SizePercent(peak)
	return Result{
		Game:   KindAudio,
		Metric: peak,
		Score:  int(math.Floor(pct + 0.5)),
		Peak:   peak,
		Label:  g.ranks.Classify(pct),
	}
}
