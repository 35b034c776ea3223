package vector

// Record is one outcome kept in a vector's history.
type Record struct {
	Saturation float64
	Method     MethodKind
	Guaranteed bool
}

// ring is a fixed-capacity ring buffer of records. The oldest record is
// evicted once the buffer is full.
type ring struct {
	buf   []Record
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Record, capacity)}
}

func (r *ring) push(rec Record) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = rec
		r.size++
		return
	}
	r.buf[r.start] = rec
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.size }

// at returns the i-th record, oldest first.
func (r *ring) at(i int) Record {
	return r.buf[(r.start+i)%len(r.buf)]
}

// recentAvgSaturation averages the saturation of the newest n records.
func (r *ring) recentAvgSaturation(n int) float64 {
	if r.size == 0 || n <= 0 {
		return 0
	}
	n = min(n, r.size)
	var sum float64
	for i := r.size - n; i < r.size; i++ {
		sum += r.at(i).Saturation
	}
	return sum / float64(n)
}

// records returns a copy of the buffer, oldest first.
func (r *ring) records() []Record {
	out := make([]Record, r.size)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}
