// Package audio turns a PCM stream into byte frequency frames for the
// audio game.
package audio

import (
	"fmt"
	"math"
	"math/bits"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser defaults, matching a browser AnalyserNode.
const (
	DefaultFFTSize     = 512
	DefaultSmoothing   = 0.3
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// AnalyserConfig tunes the frequency analysis.
type AnalyserConfig struct {
	FFTSize     int     `yaml:"fft_size"`
	Smoothing   float64 `yaml:"smoothing"`
	MinDecibels float64 `yaml:"min_decibels"`
	MaxDecibels float64 `yaml:"max_decibels"`
}

// DefaultAnalyserConfig returns the browser defaults.
func DefaultAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{
		FFTSize:     DefaultFFTSize,
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
	}
}

// Validate checks the analyser parameters.
func (c AnalyserConfig) Validate() error {
	if c.FFTSize < 32 || c.FFTSize > 32768 || bits.OnesCount(uint(c.FFTSize)) != 1 {
		return fmt.Errorf("fft_size must be a power of two in [32, 32768], got %d", c.FFTSize)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("smoothing must be in [0, 1), got %v", c.Smoothing)
	}
	if c.MinDecibels >= c.MaxDecibels {
		return fmt.Errorf("min_decibels (%v) must be below max_decibels (%v)", c.MinDecibels, c.MaxDecibels)
	}
	return nil
}

// Analyser computes FFTSize/2 byte magnitudes per frame: Blackman window,
// FFT, exponential smoothing across frames, then a linear map of
// [MinDecibels, MaxDecibels] onto 0..255.
//
// Not safe for concurrent use.
type Analyser struct {
	cfg    AnalyserConfig
	window []float64
	fft    *fourier.FFT

	windowed []float64
	coeff    []complex128
	smooth   []float64
}

// NewAnalyser returns an analyser for cfg. A zero FFTSize or decibel
// range takes the default.
func NewAnalyser(cfg AnalyserConfig) (*Analyser, error) {
	def := DefaultAnalyserConfig()
	if cfg.FFTSize == 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels, cfg.MaxDecibels = def.MinDecibels, def.MaxDecibels
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.FFTSize
	a := &Analyser{
		cfg:      cfg,
		window:   make([]float64, n),
		fft:      fourier.NewFFT(n),
		windowed: make([]float64, n),
		coeff:    make([]complex128, n/2+1),
		smooth:   make([]float64, n/2),
	}
	const alpha = 0.16
	a0, a1, a2 := 0.5*(1-alpha), 0.5, 0.5*alpha
	for i := range a.window {
		x := float64(i) / float64(n)
		a.window[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return a, nil
}

// Size returns the number of time-domain samples per frame.
func (a *Analyser) Size() int { return a.cfg.FFTSize }

// Bins returns the number of frequency bins per frame.
func (a *Analyser) Bins() int { return a.cfg.FFTSize / 2 }

// Reset clears the smoothing history.
func (a *Analyser) Reset() {
	clear(a.smooth)
}

// ByteFrequencyData analyses the latest Size() samples and writes Bins()
// bytes into dst, which must be at least that long.
func (a *Analyser) ByteFrequencyData(samples []float64, dst []uint8) {
	n := a.cfg.FFTSize
	for i := 0; i < n; i++ {
		var v float64
		if i < len(samples) {
			v = samples[i]
		}
		a.windowed[i] = v * a.window[i]
	}
	coeff := a.spectrum(a.windowed)

	tau := a.cfg.Smoothing
	scale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	for k := range a.smooth {
		mag := cmplx.Abs(coeff[k]) / float64(n)
		s := tau*a.smooth[k] + (1-tau)*mag
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		a.smooth[k] = s

		if s == 0 {
			dst[k] = 0
			continue
		}
		v := scale * (20*math.Log10(s) - a.cfg.MinDecibels)
		switch {
		case v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = uint8(v)
		}
	}
}

// spectrum returns the first FFTSize/2+1 DFT coefficients of seq, which
// must hold FFTSize samples. The result aliases the analyser's buffer.
func (a *Analyser) spectrum(seq []float64) []complex128 {
	a.coeff = a.fft.Coefficients(a.coeff, seq)
	return a.coeff
}
