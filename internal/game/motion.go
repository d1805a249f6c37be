package game

import "math"

// Motion reducer defaults.
const (
	DefaultShakeThreshold = 15.0 // summed per-axis delta, m/s²
	DefaultMinIntervalMs  = 100  // samples closer than this to the last processed one are dropped
	DefaultCooldownMs     = 100  // minimum gap between two pulses

	maxIntensity = 100
)

// MotionConfig tunes the shake detector.
type MotionConfig struct {
	Threshold     float64
	MinIntervalMs int64
	CooldownMs    int64
}

// DefaultMotionConfig returns the stock detector settings.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		Threshold:     DefaultShakeThreshold,
		MinIntervalMs: DefaultMinIntervalMs,
		CooldownMs:    DefaultCooldownMs,
	}
}

// MotionReading is the outcome of reducing one sample.
type MotionReading struct {
	// Intensity is the latest shake intensity in [0,100]. Dropped samples
	// repeat the previous value.
	Intensity int

	// Pulse is true if this sample produced a shake event.
	Pulse bool

	// Processed is false for seeding, gated and invalid samples.
	Processed bool
}

// MotionReducer turns raw acceleration samples into shake pulses.
//
// It is not safe for concurrent use; the owning controller serializes calls.
type MotionReducer struct {
	cfg MotionConfig

	last        MotionSample
	seeded      bool
	lastPulseMs int64
	pulsed      bool
	intensity   int
}

// NewMotionReducer creates a reducer. Zero fields in cfg fall back to the defaults.
func NewMotionReducer(cfg MotionConfig) *MotionReducer {
	def := DefaultMotionConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinIntervalMs <= 0 {
		cfg.MinIntervalMs = def.MinIntervalMs
	}
	if cfg.CooldownMs <= 0 {
		cfg.CooldownMs = def.CooldownMs
	}
	return &MotionReducer{cfg: cfg}
}

// Reset clears all reducer state; the next sample seeds the baseline again.
func (r *MotionReducer) Reset() {
	r.last = MotionSample{}
	r.seeded = false
	r.lastPulseMs = 0
	r.pulsed = false
	r.intensity = 0
}

// Reduce processes one sample.
func (r *MotionReducer) Reduce(s MotionSample) MotionReading {
	if !finite(s.X) || !finite(s.Y) || !finite(s.Z) {
		return MotionReading{Intensity: r.intensity}
	}

	if !r.seeded {
		r.last = s
		r.seeded = true
		return MotionReading{Intensity: r.intensity}
	}

	// A clock that jumps backwards (device restart) reseeds the baseline
	// and forgets the last pulse, otherwise every later sample is gated.
	if s.TimestampMs < r.last.TimestampMs {
		r.last = s
		r.pulsed = false
		return MotionReading{Intensity: r.intensity}
	}

	if s.TimestampMs-r.last.TimestampMs <= r.cfg.MinIntervalMs {
		return MotionReading{Intensity: r.intensity}
	}

	delta := math.Abs(s.X-r.last.X) + math.Abs(s.Y-r.last.Y) + math.Abs(s.Z-r.last.Z)
	r.intensity = shakeIntensity(delta, r.cfg.Threshold)

	pulse := false
	if delta > r.cfg.Threshold && (!r.pulsed || s.TimestampMs-r.lastPulseMs > r.cfg.CooldownMs) {
		pulse = true
		r.pulsed = true
		r.lastPulseMs = s.TimestampMs
	}

	r.last = s

	return MotionReading{Intensity: r.intensity, Pulse: pulse, Processed: true}
}

// shakeIntensity maps a delta onto 0..100, where the threshold itself
// reads as 20.
func shakeIntensity(delta, threshold float64) int {
	v := math.Floor(delta/threshold*20 + 0.5)
	if v > maxIntensity {
		return maxIntensity
	}
	if v < 0 {
		return 0
	}
	return int(v)
}

// SpeedTier buckets an intensity into the five animation speeds of the
// running figure.
func SpeedTier(intensity int) int {
	switch {
	case intensity > 80:
		return 5
	case intensity > 60:
		return 4
	case intensity > 40:
		return 3
	case intensity > 20:
		return 2
	default:
		return 1
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
