package normalize

// TieBreaker spreads identical second-resolution timestamps over synthetic
// milliseconds so that archive order survives later sorting. One value must
// see the whole new-format stream.
type TieBreaker struct {
	prev      int64
	increment int64
	seen      bool
}

// Next returns the timestamp to store for a message whose parsed time is ms.
func (t *TieBreaker) Next(ms int64) int64 {
	if t.seen && ms == t.prev {
		out := ms + t.increment
		t.increment++
		return out
	}
	t.prev = ms
	t.increment = 1
	t.seen = true
	return ms
}
