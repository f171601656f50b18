package crawler

// Frontier owns the breadth-first queue and the visited set. URLs are
// normalized before every comparison. A Frontier is owned by a single
// traversal loop and is not safe for concurrent use.
type Frontier struct {
	pending []string
	queued  map[string]struct{}
	visited map[string]struct{}
	trace   []string
}

// NewFrontier returns a Frontier seeded with start.
func NewFrontier(start string) *Frontier {
	f := &Frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
	f.Push(start)
	return f
}

// Push enqueues raw unless its normalized form was already visited or is
// already pending. It reports whether the URL was added.
func (f *Frontier) Push(raw string) bool {
	u := Normalize(raw)
	if u == "" {
		return false
	}
	if _, seen := f.visited[u]; seen {
		return false
	}
	if _, pending := f.queued[u]; pending {
		return false
	}
	f.queued[u] = struct{}{}
	f.pending = append(f.pending, u)
	return true
}

// Next pops the oldest pending URL and marks it visited. ok is false once
// the queue is exhausted.
func (f *Frontier) Next() (u string, ok bool) {
	for len(f.pending) > 0 {
		u = f.pending[0]
		f.pending[0] = ""
		f.pending = f.pending[1:]
		delete(f.queued, u)
		if _, seen := f.visited[u]; seen {
			continue
		}
		f.visited[u] = struct{}{}
		f.trace = append(f.trace, u)
		return u, true
	}
	return "", false
}

// Pending reports the queue length.
func (f *Frontier) Pending() int { return len(f.pending) }

// Trace returns the visit order so far.
func (f *Frontier) Trace() []string {
	return append([]string(nil), f.trace...)
}
