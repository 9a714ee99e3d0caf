package patternmemory

// ring is a fixed-capacity FIFO of float64 samples. Push overwrites the oldest
// sample once the ring is full.
type ring struct {
	buf   []float64
	start int // index of oldest sample
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.n
}

// values returns samples oldest first.
func (r *ring) values() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// recent returns up to k of the newest samples, oldest first.
func (r *ring) recent(k int) []float64 {
	all := r.values()
	if k >= len(all) {
		return all
	}
	return all[len(all)-k:]
}

// dropOldest removes up to k of the oldest samples.
func (r *ring) dropOldest(k int) {
	if k > r.n {
		k = r.n
	}
	if k <= 0 {
		return
	}
	r.start = (r.start + k) % len(r.buf)
	r.n -= k
	if r.n == 0 {
		r.start = 0
	}
}
