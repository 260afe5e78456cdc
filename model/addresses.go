package model

// AddressTable counts how often each chat endpoint was observed.
// Insertion order is kept so that ties resolve to the address seen first.
type AddressTable struct {
	counts map[string]int
	order  []string
}

func NewAddressTable() *AddressTable {
	return &AddressTable{counts: make(map[string]int)}
}

func (t *AddressTable) Add(addrs ...string) {
	for _, addr := range addrs {
		if _, ok := t.counts[addr]; !ok {
			t.order = append(t.order, addr)
		}
		t.counts[addr]++
	}
}

func (t *AddressTable) Count(addr string) int {
	return t.counts[addr]
}

func (t *AddressTable) Len() int {
	return len(t.order)
}

// Addresses returns every observed address in first-seen order.
func (t *AddressTable) Addresses() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Counts returns a copy of the frequency map.
func (t *AddressTable) Counts() map[string]int {
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// MostFrequent returns the address with the highest count, or "" for an empty table.
func (t *AddressTable) MostFrequent() string {
	best := ""
	bestCount := 0
	for _, addr := range t.order {
		if c := t.counts[addr]; c > bestCount {
			best, bestCount = addr, c
		}
	}
	return best
}
