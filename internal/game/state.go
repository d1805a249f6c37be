package game

import (
	"fmt"
	"time"
)

// Kind identifies one of the two mini-games.
type Kind string

const (
	KindMotion Kind = "motion"
	KindAudio  Kind = "audio"
)

// ParseKind converts a user-supplied game name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMotion, KindAudio:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown game %q (must be %q or %q)", s, KindMotion, KindAudio)
	}
}

// Phase is the session lifecycle state.
type Phase int

const (
	PhaseReady Phase = iota
	PhasePlaying
	PhaseResult
)

func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhasePlaying:
		return "playing"
	case PhaseResult:
		return "result"
	default:
		return "unknown"
	}
}

// MarshalText lets phases appear by name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ready":
		*p = PhaseReady
	case "playing":
		*p = PhasePlaying
	case "result":
		*p = PhaseResult
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// MotionSample is one raw tri-axis acceleration reading (m/s², gravity
// included) with the time it was taken.
type MotionSample struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	TimestampMs int64   `json:"ts"`
}

// AudioFrame is one tick of frequency-domain energy, one byte per bin.
type AudioFrame []uint8

// Update is the per-sample value handed to the presentation sink.
type Update struct {
	Game Kind `json:"game"`

	// Metric is the accumulated session metric (steps or peak size).
	Metric float64 `json:"metric"`

	// Level is the instantaneous level: shake intensity 0..100 for the
	// motion game, volume 0..1 for the audio game.
	Level float64 `json:"level"`

	// Size is the current shape size (audio only).
	Size float64 `json:"size,omitempty"`

	// Pulse is true if this sample produced a shake pulse (motion only).
	Pulse bool `json:"pulse,omitempty"`

	// SpeedTier is the 1..5 animation speed for a pulse (motion only).
	SpeedTier int `json:"speed_tier,omitempty"`
}

// Result is the record published once per session when it ends.
type Result struct {
	SessionID string    `json:"session_id"`
	Game      Kind      `json:"game"`
	Metric    float64   `json:"metric"`
	Score     int       `json:"score"`
	Peak      float64   `json:"peak,omitempty"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Snapshot is a point-in-time view of a controller.
type Snapshot struct {
	Game          Kind    `json:"game"`
	Phase         Phase   `json:"phase"`
	TimeRemaining int     `json:"time_remaining"`
	Metric        float64 `json:"metric"`
	SessionID     string  `json:"session_id,omitempty"`
	Result        *Result `json:"result,omitempty"`
}
