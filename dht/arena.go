package dht

// handle addresses an entry in the arena. Buckets and the id index both
// store handles, so each id has exactly one canonical entry.
type handle int32

// arena stores table entries in a slice and recycles released slots.
type arena struct {
	entries []NodeEntry
	live    []bool
	free    []handle
}

func (a *arena) alloc(e NodeEntry) handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.entries[h] = e
		a.live[h] = true
		return h
	}
	a.entries = append(a.entries, e)
	a.live = append(a.live, true)
	return handle(len(a.entries) - 1)
}

// get returns the entry for h. The pointer is only valid until the next
// alloc.
func (a *arena) get(h handle) *NodeEntry {
	if int(h) < 0 || int(h) >= len(a.entries) || !a.live[h] {
		return nil
	}
	return &a.entries[h]
}

func (a *arena) release(h handle) {
	if a.get(h) == nil {
		return
	}
	a.entries[h] = NodeEntry{}
	a.live[h] = false
	a.free = append(a.free, h)
}

// len returns the number of live entries.
func (a *arena) len() int {
	return len(a.entries) - len(a.free)
}
