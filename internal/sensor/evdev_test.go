package sensor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"os"
	"testing"

	"sensorgames/internal/game"
)

func encodeEvents(t *testing.T, evs ...inputEvent) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range evs {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}
	return &buf
}

func abs(code uint16, value int32, sec, usec int64) inputEvent {
	return inputEvent{Sec: sec, Usec: usec, Type: evAbs, Code: code, Value: value}
}

func syn(code uint16, sec, usec int64) inputEvent {
	return inputEvent{Sec: sec, Usec: usec, Type: evSyn, Code: code}
}

func TestInputEventSize(t *testing.T) {
	if inputEventSize != 24 {
		t.Fatalf("inputEventSize=%d, want 24", inputEventSize)
	}
}

func TestFrameAssembler_EmitsOnSynReport(t *testing.T) {
	buf := encodeEvents(t,
		abs(absX, 10, 1, 500000),
		abs(absY, -4, 1, 500000),
		abs(absZ, 98, 1, 500000),
		syn(synReport, 1, 500000),
		// Only X changes: Y and Z keep their previous values.
		abs(absX, 12, 1, 600000),
		syn(synReport, 1, 600000),
		// Report with no axis change emits nothing.
		syn(synReport, 1, 700000),
	)

	asm := newFrameAssembler([3]float64{0.5, 0.5, 0.5})
	var got []game.MotionSample
	if err := decodeEvents(buf, func(ev inputEvent) {
		if s, ok := asm.push(ev); ok {
			got = append(got, s)
		}
	}); err != nil {
		t.Fatalf("decodeEvents: %v", err)
	}

	want := []game.MotionSample{
		{X: 5, Y: -2, Z: 49, TimestampMs: 1500},
		{X: 6, Y: -2, Z: 49, TimestampMs: 1600},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFrameAssembler_DiscardsDroppedReport(t *testing.T) {
	asm := newFrameAssembler([3]float64{})
	for _, ev := range []inputEvent{
		abs(absX, 1, 0, 0),
		syn(synDropped, 0, 0),
		abs(absY, 2, 0, 0),
		syn(synReport, 0, 0),
	} {
		if s, ok := asm.push(ev); ok {
			t.Fatalf("unexpected sample after SYN_DROPPED: %+v", s)
		}
	}

	// The next full report is delivered, with zero scale treated as 1.
	asm.push(abs(absZ, 3, 2, 0))
	s, ok := asm.push(syn(synReport, 2, 0))
	if !ok {
		t.Fatalf("expected sample after recovery")
	}
	if s.X != 1 || s.Y != 2 || s.Z != 3 || s.TimestampMs != 2000 {
		t.Fatalf("got %+v", s)
	}
}

func TestFrameAssembler_IgnoresOtherAxes(t *testing.T) {
	asm := newFrameAssembler([3]float64{1, 1, 1})
	asm.push(inputEvent{Type: evAbs, Code: 0x28, Value: 7}) // ABS_MISC
	if _, ok := asm.push(syn(synReport, 0, 0)); ok {
		t.Fatalf("non-accelerometer axis produced a sample")
	}
}

func TestDecodeEvents_TruncatedTail(t *testing.T) {
	buf := encodeEvents(t, syn(synReport, 0, 0))
	buf.Write([]byte{1, 2, 3})

	var n int
	err := decodeEvents(buf, func(inputEvent) { n++ })
	if err == nil {
		t.Fatalf("expected error for truncated event")
	}
	if n != 1 {
		t.Fatalf("decoded %d events before error, want 1", n)
	}
}

func TestScaleFromResolution(t *testing.T) {
	if got := scaleFromResolution(0); got != 0 {
		t.Fatalf("resolution 0: got %v", got)
	}
	got := scaleFromResolution(1024)
	if math.Abs(got-standardGravity/1024) > 1e-12 {
		t.Fatalf("resolution 1024: got %v", got)
	}
}

func TestClassifyOpenErr(t *testing.T) {
	perm := classifyOpenErr(&os.PathError{Op: "open", Path: "/dev/input/event0", Err: fs.ErrPermission})
	if !errors.Is(perm, game.ErrPermissionDenied) {
		t.Fatalf("permission error not classified: %v", perm)
	}
	missing := classifyOpenErr(&os.PathError{Op: "open", Path: "/dev/input/event9", Err: fs.ErrNotExist})
	if !errors.Is(missing, game.ErrDeviceUnavailable) || !errors.Is(missing, fs.ErrNotExist) {
		t.Fatalf("missing device not classified: %v", missing)
	}
}

func TestEvdevSource_AcquireMissingDevice(t *testing.T) {
	src := NewEvdevSource(EvdevConfig{Path: "/nonexistent/input/event0"}, nil)
	err := src.Acquire(t.Context())
	if !errors.Is(err, game.ErrDeviceUnavailable) {
		t.Fatalf("Acquire: got %v, want ErrDeviceUnavailable", err)
	}
	if err := src.Subscribe(func(game.MotionSample) {}); err == nil {
		t.Fatalf("Subscribe without Acquire should fail")
	}
	if err := src.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
