package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"sensorgames/internal/game"
)

// maxDatagram is the largest accepted sensor packet.
const maxDatagram = 512

// Read error backoff bounds.
const (
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// RawPacket is one JSON datagram from a networked sensor (phone or
// microcontroller). Accelerations are in m/s². Timestamp is the device's
// own clock in ms; it is only logged, since devices reset it on restart.
type RawPacket struct {
	Type      string  `json:"type"`
	AX        float64 `json:"ax"`
	AY        float64 `json:"ay"`
	AZ        float64 `json:"az"`
	Timestamp int64   `json:"ts"`
}

// UDPSource receives RawPackets on a UDP socket. Devices announce
// themselves with {"type":"discover"} and get {"type":"ack"} back.
type UDPSource struct {
	addr   string
	logger *slog.Logger

	mu   sync.Mutex
	conn *net.UDPConn
	done chan struct{}
	wg   sync.WaitGroup
	subd bool
}

// udpConn is the part of *net.UDPConn the receiver uses.
type udpConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// NewUDPSource returns a source listening on addr (host:port).
func NewUDPSource(addr string, logger *slog.Logger) *UDPSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPSource{addr: addr, logger: logger.With("listen", addr)}
}

// Acquire binds the socket.
func (s *UDPSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return classifyOpenErr(fmt.Errorf("udp listen: %w", err))
	}
	s.conn = pc.(*net.UDPConn)
	s.logger.Info("udp sensor listener started", "addr", s.conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, or nil before Acquire.
func (s *UDPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Subscribe starts the receive goroutine.
func (s *UDPSource) Subscribe(fn func(game.MotionSample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errNotAcquired
	}
	if s.subd {
		return errors.New("udp source already subscribed")
	}
	s.subd = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.readLoop(s.conn, s.done, fn)
	return nil
}

// Release closes the socket and waits for the receiver to exit.
func (s *UDPSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	err := s.conn.Close()
	s.wg.Wait()
	s.conn = nil
	s.subd = false
	if err != nil {
		return fmt.Errorf("udp close: %w", err)
	}
	return nil
}

// readLoop stamps samples with a monotonic receive clock; the device
// timestamp is not trusted for gating.
func (s *UDPSource) readLoop(conn udpConn, done <-chan struct{}, fn func(game.MotionSample)) {
	defer s.wg.Done()

	epoch := time.Now()
	backoff := minReadBackoff
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("udp read", "error", err, "retry_in", backoff)
			select {
			case <-done:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReadBackoff)
			continue
		}
		backoff = minReadBackoff

		var pkt RawPacket
		if err := json.Unmarshal(buf[:n], &pkt); err != nil {
			s.logger.Debug("udp parse", "error", err, "raw", string(buf[:n]))
			continue
		}

		switch pkt.Type {
		case "discover":
			ack := []byte(`{"type":"ack"}`)
			if _, err := conn.WriteToUDP(ack, src); err != nil {
				s.logger.Warn("ack send", "error", err)
			} else {
				s.logger.Info("discovery ack", "peer", src.String())
			}
		case "data":
			fn(pkt.Sample(time.Since(epoch).Milliseconds()))
		default:
			s.logger.Debug("unknown packet type", "type", pkt.Type)
		}
	}
}

// Sample converts the packet into a motion sample taken at receivedMs.
func (p RawPacket) Sample(receivedMs int64) game.MotionSample {
	return game.MotionSample{X: p.AX, Y: p.AY, Z: p.AZ, TimestampMs: receivedMs}
}
