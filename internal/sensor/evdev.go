package sensor

import (
	"bytes"
	"encoding/binary"
	"io"

	"sensorgames/internal/game"
)

// Linux input event types and codes (from <linux/input-event-codes.h>).
const (
	evSyn = 0x00
	evAbs = 0x03

	synReport  = 0x00
	synDropped = 0x03

	absX = 0x00
	absY = 0x01
	absZ = 0x02
)

// standardGravity converts a per-g resolution into m/s².
const standardGravity = 9.80665

// inputEvent mirrors struct input_event on 64-bit Linux:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// timestampMs returns the kernel event time in milliseconds.
func (ev inputEvent) timestampMs() int64 {
	return ev.Sec*1000 + ev.Usec/1000
}

// frameAssembler collects ABS axis updates until SYN_REPORT and turns each
// report into one MotionSample. Axes that did not change keep their last
// value, as evdev only reports deltas.
type frameAssembler struct {
	scale   [3]float64
	axes    [3]int32
	dirty   bool
	dropped bool
}

func newFrameAssembler(scale [3]float64) *frameAssembler {
	for i, s := range scale {
		if s == 0 {
			scale[i] = 1
		}
	}
	return &frameAssembler{scale: scale}
}

// push feeds one event and reports a completed sample, if any.
func (a *frameAssembler) push(ev inputEvent) (game.MotionSample, bool) {
	switch ev.Type {
	case evAbs:
		if ev.Code <= absZ {
			a.axes[ev.Code] = ev.Value
			a.dirty = true
		}
	case evSyn:
		switch ev.Code {
		case synDropped:
			// The kernel buffer overran; discard until the next report.
			a.dropped = true
		case synReport:
			if a.dropped {
				a.dropped = false
				a.dirty = false
				return game.MotionSample{}, false
			}
			if !a.dirty {
				return game.MotionSample{}, false
			}
			a.dirty = false
			return game.MotionSample{
				X:           float64(a.axes[absX]) * a.scale[absX],
				Y:           float64(a.axes[absY]) * a.scale[absY],
				Z:           float64(a.axes[absZ]) * a.scale[absZ],
				TimestampMs: ev.timestampMs(),
			}, true
		}
	}
	return game.MotionSample{}, false
}

// decodeEvents reads whole input_event records from r until EOF or error.
func decodeEvents(r io.Reader, fn func(inputEvent)) error {
	buf := make([]byte, inputEventSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}
		fn(ev)
	}
}

// scaleFromResolution turns an evdev axis resolution (units per g) into
// a m/s² multiplier.
func scaleFromResolution(res int32) float64 {
	if res <= 0 {
		return 0
	}
	return standardGravity / float64(res)
}
