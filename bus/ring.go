package bus

// ring is a fixed-capacity FIFO over messages. When full, appending
// evicts the oldest entry. Not safe for concurrent use; the Bus guards it.
type ring struct {
	buf   []*Message
	head  int
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]*Message, capacity)}
}

// append adds m, evicting the oldest message if the ring is full.
func (r *ring) append(m *Message) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = m
	if r.count < len(r.buf) {
		r.count++
		return
	}
	// Full: tail overwrote head; advance head.
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) len() int { return r.count }

// snapshot returns the newest n messages, oldest first. n <= 0 means all.
func (r *ring) snapshot(n int) []*Message {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]*Message, 0, n)
	start := r.count - n
	for i := start; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
