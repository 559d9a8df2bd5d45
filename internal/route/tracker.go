package route

// Tracker reference-counts subscribers per topic. It bridges the
// subscription registry to engine lifecycle: the first-to-one
// transition starts a producer, one-to-zero stops it.
//
// Not self-locking: the owning route serializes all access under its
// registry mutex so transitions are observed exactly once.
type Tracker struct {
	counts map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Inc increments the count for topic and reports whether this was the
// first subscriber.
func (t *Tracker) Inc(topic string) (first bool) {
	first = t.counts[topic] == 0
	t.counts[topic]++
	return first
}

// Dec decrements the count and reports whether the last subscriber just
// left. Decrementing an untracked topic is a no-op.
func (t *Tracker) Dec(topic string) (last bool) {
	n, ok := t.counts[topic]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.counts, topic)
		return true
	}
	t.counts[topic] = n - 1
	return false
}

// Count returns the current subscriber count for topic.
func (t *Tracker) Count(topic string) int {
	return t.counts[topic]
}

// Len returns the number of live topics.
func (t *Tracker) Len() int {
	return len(t.counts)
}
