//go:build linux

package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"sensorgames/internal/game"
)

// pollTimeoutMs bounds how long the reader waits before rechecking for
// Release.
const pollTimeoutMs = 100

// EvdevConfig describes an accelerometer exposed as a Linux input device.
type EvdevConfig struct {
	Path string
	// Scale multiplies raw axis values to get m/s². Zero means derive it
	// from the device's reported axis resolution, or 1 when it has none.
	Scale float64
}

// EvdevSource reads ABS_X/Y/Z reports from an input device and emits one
// MotionSample per SYN_REPORT.
//
// The device is read by a single goroutine blocked in epoll_wait; the
// callback runs on that goroutine.
type EvdevSource struct {
	cfg    EvdevConfig
	logger *slog.Logger

	mu    sync.Mutex
	fd    int
	epfd  int
	scale [3]float64
	open  bool
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewEvdevSource returns a source for the device at cfg.Path.
func NewEvdevSource(cfg EvdevConfig, logger *slog.Logger) *EvdevSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvdevSource{cfg: cfg, logger: logger.With("device", cfg.Path), fd: -1, epfd: -1}
}

// Acquire opens the device and registers it with epoll.
func (s *EvdevSource) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}

	fd, err := unix.Open(s.cfg.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return classifyOpenErr(&os.PathError{Op: "open", Path: s.cfg.Path, Err: err})
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("%w: epoll_create1: %w", game.ErrDeviceUnavailable, err)
	}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return fmt.Errorf("%w: epoll_ctl_add fd=%d: %w", game.ErrDeviceUnavailable, fd, err)
	}

	for axis := absX; axis <= absZ; axis++ {
		switch {
		case s.cfg.Scale > 0:
			s.scale[axis] = s.cfg.Scale
		default:
			s.scale[axis] = scaleFromResolution(axisResolution(fd, axis))
		}
	}

	s.fd = fd
	s.epfd = epfd
	s.open = true
	s.logger.Info("evdev device opened", "scale", s.scale[absX])
	return nil
}

// Subscribe starts the reader goroutine. It may be called once per Acquire.
func (s *EvdevSource) Subscribe(fn func(game.MotionSample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errNotAcquired
	}
	if s.done != nil {
		return errors.New("evdev source already subscribed")
	}

	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.readLoop(s.fd, s.epfd, newFrameAssembler(s.scale), s.done, fn)
	return nil
}

// Release stops the reader and closes the device. It is idempotent.
func (s *EvdevSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		close(s.done)
		s.wg.Wait()
		s.done = nil
	}
	if !s.open {
		return nil
	}

	err := errors.Join(unix.Close(s.epfd), unix.Close(s.fd))
	s.fd, s.epfd = -1, -1
	s.open = false
	if err != nil {
		return fmt.Errorf("close %s: %w", s.cfg.Path, err)
	}
	s.logger.Debug("evdev device closed")
	return nil
}

func (s *EvdevSource) readLoop(fd, epfd int, asm *frameAssembler, done <-chan struct{}, fn func(game.MotionSample)) {
	defer s.wg.Done()

	var epollEvents [1]unix.EpollEvent
	// Read in batches; the kernel only returns whole events.
	buf := make([]byte, inputEventSize*64)

	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := unix.EpollWait(epfd, epollEvents[:], pollTimeoutMs)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			s.logger.Error("epoll_wait failed", "error", err)
			return
		}
		if n == 0 {
			continue
		}
		if epollEvents[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			s.logger.Error("device error/hangup")
			return
		}

		for {
			nr, err := unix.Read(fd, buf)
			if err != nil {
				if err == unix.EAGAIN || err == syscall.EINTR {
					break
				}
				s.logger.Error("read failed", "error", err)
				return
			}
			if nr <= 0 {
				break
			}
			err = decodeEvents(bytes.NewReader(buf[:nr]), func(ev inputEvent) {
				if sample, ok := asm.push(ev); ok {
					fn(sample)
				}
			})
			if err != nil {
				s.logger.Warn("short input event read", "bytes", nr, "error", err)
			}
		}
	}
}

// inputAbsinfo mirrors struct input_absinfo.
type inputAbsinfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// eviocgabs builds EVIOCGABS(abs) = _IOR('E', 0x40 + abs, struct input_absinfo).
func eviocgabs(axis int) uintptr {
	const (
		iocRead     = 2
		iocNrShift  = 0
		iocTypShift = 8
		iocSzShift  = 16
		iocDirShift = 30
	)
	size := unsafe.Sizeof(inputAbsinfo{})
	return uintptr(iocRead)<<iocDirShift |
		size<<iocSzShift |
		uintptr('E')<<iocTypShift |
		uintptr(0x40+axis)<<iocNrShift
}

// axisResolution returns the axis resolution in units per g, or 0 if the
// device does not report one.
func axisResolution(fd, axis int) int32 {
	var info inputAbsinfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), eviocgabs(axis), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return 0
	}
	return info.Resolution
}

