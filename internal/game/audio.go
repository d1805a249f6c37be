package game

import "math"

// Audio reducer constants, in presentation units (CSS px).
const (
	MinSize       = 50.0
	MaxSize       = 400.0
	sizeRange     = MaxSize - MinSize
	fullScaleMean = 100.0 // mean bin energy that reads as full volume
)

// AudioReading is the outcome of reducing one frame.
type AudioReading struct {
	Volume float64 // normalized loudness in [0,1]
	Size   float64 // current shape size in [MinSize, MaxSize]
	Peak   float64 // largest size seen this session
}

// AudioReducer turns frequency frames into a normalized volume and a
// monotone peak size.
//
// It is not safe for concurrent use; the owning controller serializes calls.
type AudioReducer struct {
	peak float64
}

// NewAudioReducer returns a reducer with its peak at the size floor.
func NewAudioReducer() *AudioReducer {
	return &AudioReducer{peak: MinSize}
}

// Reset puts the peak back at the size floor.
func (r *AudioReducer) Reset() {
	r.peak = MinSize
}

// Peak returns the largest size seen since the last reset.
func (r *AudioReducer) Peak() float64 {
	return r.peak
}

// Reduce processes one frame.
func (r *AudioReducer) Reduce(frame AudioFrame) AudioReading {
	volume := math.Min(meanEnergy(frame)/fullScaleMean, 1)
	size := MinSize + volume*sizeRange
	r.peak = math.Max(r.peak, size)
	return AudioReading{Volume: volume, Size: size, Peak: r.peak}
}

func meanEnergy(frame AudioFrame) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum int
	for _, v := range frame {
		sum += int(v)
	}
	return float64(sum) / float64(len(frame))
}

// SizePercent expresses a size as a percentage of the size range.
func SizePercent(size float64) float64 {
	return (size - MinSize) / sizeRange * 100
}
