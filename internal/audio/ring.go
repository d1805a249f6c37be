package audio

import "sync"

// ring keeps the most recent len(buf) mono samples. The decoder goroutine
// writes; the frame ticker reads.
type ring struct {
	mu   sync.Mutex
	buf  []float64
	next int
}

func newRing(n int) *ring {
	return &ring{buf: make([]float64, n)}
}

func (r *ring) write(samples []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		r.buf[r.next] = s
		r.next++
		if r.next == len(r.buf) {
			r.next = 0
		}
	}
}

// latest copies the window into dst, oldest sample first.
func (r *ring) latest(dst []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(dst, r.buf[r.next:])
	copy(dst[n:], r.buf[:r.next])
}

func (r *ring) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.next = 0
}
