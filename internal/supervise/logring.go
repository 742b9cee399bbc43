package supervise

import "sync"

// logRing is a bounded in-memory line buffer. Once the ceiling is hit the
// oldest lines are evicted. Appends come from the drain goroutine; Tail is
// called from status paths and must never block draining.
type logRing struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = 500
	}
	return &logRing{lines: make([]string, capacity)}
}

func (r *logRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % len(r.lines)
	r.lines[idx] = line
	if r.count < len(r.lines) {
		r.count++
	} else {
		r.start = (r.start + 1) % len(r.lines)
	}
}

// Tail returns the last n lines, oldest first.
func (r *logRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]string, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.lines[(r.start+i)%len(r.lines)])
	}
	return out
}

func (r *logRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
