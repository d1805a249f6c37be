package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"sensorgames/internal/game"
)

const (
	// DefaultFrameRate is how often a frame is analysed and delivered.
	DefaultFrameRate = 60

	// chunkDuration is the decode granularity.
	chunkDuration = 10 * time.Millisecond
)

// DefaultCommand captures mono 16-bit PCM from the default ALSA device as
// a WAV stream on stdout.
func DefaultCommand() []string {
	return []string{"arecord", "-q", "-f", "S16_LE", "-r", "44100", "-c", "1", "-t", "wav", "-"}
}

// SourceConfig selects where PCM comes from. File takes precedence over
// Command; a file is played back at real-time speed.
type SourceConfig struct {
	Command   []string
	File      string
	Loop      bool
	FrameRate int
	Analyser  AnalyserConfig
}

// Source decodes a WAV stream and delivers byte frequency frames at
// FrameRate. It implements game.Source[game.AudioFrame].
type Source struct {
	cfg    SourceConfig
	logger *slog.Logger

	mu         sync.Mutex
	acquired   bool
	subscribed bool
	cmd        *exec.Cmd
	stderr     *bytes.Buffer
	stream     beep.StreamSeekCloser
	ring       *ring
	analyser   *Analyser
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewSource validates cfg and returns an idle source.
func NewSource(cfg SourceConfig, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.File == "" && len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand()
	}
	analyser, err := NewAnalyser(cfg.Analyser)
	if err != nil {
		return nil, err
	}
	return &Source{
		cfg:      cfg,
		logger:   logger,
		ring:     newRing(analyser.Size()),
		analyser: analyser,
	}, nil
}

type decodeResult struct {
	stream beep.StreamSeekCloser
	format beep.Format
	err    error
}

// Acquire opens the capture device or file and starts decoding.
func (s *Source) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return nil
	}

	var (
		res  decodeResult
		pace bool
	)
	if s.cfg.File != "" {
		f, err := os.Open(s.cfg.File)
		if err != nil {
			return classifyOpenErr(err)
		}
		res.stream, res.format, res.err = wav.Decode(f)
		if res.err != nil {
			f.Close()
			return fmt.Errorf("%w: decode %s: %w", game.ErrDeviceUnavailable, s.cfg.File, res.err)
		}
		pace = true
		s.logger.Info("audio file opened", "file", s.cfg.File, "sample_rate", int(res.format.SampleRate))
	} else {
		var err error
		res, err = s.startCommand(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("audio capture started", "command", s.cfg.Command[0], "sample_rate", int(res.format.SampleRate))
	}

	var streamer beep.Streamer = res.stream
	if pace && s.cfg.Loop {
		streamer = beep.Loop(-1, res.stream)
	}

	s.stream = res.stream
	s.ring.reset()
	s.done = make(chan struct{})
	s.acquired = true

	s.wg.Add(1)
	go s.pump(streamer, res.format, pace, s.done)
	return nil
}

func (s *Source) startCommand(ctx context.Context) (decodeResult, error) {
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return decodeResult{}, fmt.Errorf("%w: stdout pipe: %w", game.ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return decodeResult{}, classifyOpenErr(fmt.Errorf("start %s: %w", s.cfg.Command[0], err))
	}

	ch := make(chan decodeResult, 1)
	go func() {
		var r decodeResult
		r.stream, r.format, r.err = wav.Decode(stdout)
		ch <- r
	}()

	abort := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	select {
	case r := <-ch:
		if r.err != nil {
			abort()
			return decodeResult{}, classifyCaptureErr(r.err, stderr.String())
		}
		s.cmd = cmd
		s.stderr = stderr
		return r, nil
	case <-ctx.Done():
		abort()
		<-ch
		return decodeResult{}, fmt.Errorf("%w: %w", game.ErrDeviceUnavailable, ctx.Err())
	}
}

// Subscribe starts delivering frames to fn on a ticker goroutine.
func (s *Source) Subscribe(fn func(game.AudioFrame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return errors.New("audio source not acquired")
	}
	if s.subscribed {
		return errors.New("audio source already subscribed")
	}
	s.subscribed = true
	s.analyser.Reset()

	s.wg.Add(1)
	go s.frames(fn, s.done)
	return nil
}

// Release stops decoding and closes the device. It is idempotent.
func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return nil
	}

	close(s.done)
	if s.cmd != nil {
		// Unblocks a pump waiting on the pipe.
		_ = s.cmd.Process.Kill()
	}
	s.wg.Wait()

	err := s.stream.Close()
	if s.cmd != nil {
		if werr := s.cmd.Wait(); werr != nil {
			s.logger.Debug("audio capture exited", "error", werr, "stderr", strings.TrimSpace(s.stderr.String()))
		}
	}

	s.cmd, s.stderr, s.stream = nil, nil, nil
	s.acquired = false
	s.subscribed = false
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close audio stream: %w", err)
	}
	return nil
}

func (s *Source) pump(stream beep.Streamer, format beep.Format, pace bool, done <-chan struct{}) {
	defer s.wg.Done()

	n := format.SampleRate.N(chunkDuration)
	buf := make([][2]float64, n)
	mono := make([]float64, n)

	var tick <-chan time.Time
	if pace {
		ticker := time.NewTicker(format.SampleRate.D(n))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-done:
			return
		default:
		}

		got, ok := stream.Stream(buf)
		for i := 0; i < got; i++ {
			mono[i] = (buf[i][0] + buf[i][1]) / 2
		}
		s.ring.write(mono[:got])

		if !ok {
			if err := stream.Err(); err != nil {
				s.logger.Warn("audio stream error", "error", err)
			} else {
				s.logger.Info("audio stream ended")
			}
			// Later frames read silence.
			s.ring.reset()
			return
		}

		if tick != nil {
			select {
			case <-done:
				return
			case <-tick:
			}
		}
	}
}

func (s *Source) frames(fn func(game.AudioFrame), done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FrameRate))
	defer ticker.Stop()

	window := make([]float64, s.analyser.Size())
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.ring.latest(window)
			frame := make(game.AudioFrame, s.analyser.Bins())
			s.analyser.ByteFrequencyData(window, frame)
			fn(frame)
		}
	}
}

func classifyOpenErr(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", game.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", game.ErrDeviceUnavailable, err)
}

// classifyCaptureErr inspects the capture tool's stderr, which is the only
// place ALSA reports why the device could not be opened.
func classifyCaptureErr(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if strings.Contains(strings.ToLower(msg), "permission denied") {
		return fmt.Errorf("%w: %s", game.ErrPermissionDenied, msg)
	}
	if msg != "" {
		return fmt.Errorf("%w: %s: %w", game.ErrDeviceUnavailable, msg, err)
	}
	return fmt.Errorf("%w: %w", game.ErrDeviceUnavailable, err)
}
