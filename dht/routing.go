package dht

import (
	"container/heap"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// candidate is a node waiting for a slot in a full bucket.
type candidate struct {
	id       crypto.NodeID
	endpoint transport.Endpoint
}

// kBucket holds the handles of one distance class, least recently seen
// first, and a queue of replacement candidates.
type kBucket struct {
	entries      []handle
	replacements []candidate
}

func (b *kBucket) indexOf(h handle) int {
	for i, e := range b.entries {
		if e == h {
			return i
		}
	}
	return -1
}

// moveToBack marks h as the most recently seen entry.
func (b *kBucket) moveToBack(h handle) {
	i := b.indexOf(h)
	if i < 0 || i == len(b.entries)-1 {
		return
	}
	copy(b.entries[i:], b.entries[i+1:])
	b.entries[len(b.entries)-1] = h
}

func (b *kBucket) remove(h handle) bool {
	i := b.indexOf(h)
	if i < 0 {
		return false
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return true
}

// addReplacement queues c, replacing any older candidate with the same id.
// The queue keeps the newest max candidates.
func (b *kBucket) addReplacement(c candidate, max int) {
	if max <= 0 {
		return
	}
	b.removeReplacement(c.id)
	b.replacements = append(b.replacements, c)
	if over := len(b.replacements) - max; over > 0 {
		b.replacements = b.replacements[over:]
	}
}

func (b *kBucket) removeReplacement(id crypto.NodeID) {
	for i, c := range b.replacements {
		if c.id == id {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			return
		}
	}
}

// popReplacement removes and returns the oldest queued candidate.
func (b *kBucket) popReplacement() (candidate, bool) {
	if len(b.replacements) == 0 {
		return candidate{}, false
	}
	c := b.replacements[0]
	b.replacements = b.replacements[1:]
	return c, true
}

// nodeHeap is a max-heap on distance to target, used to keep the k
// closest entries while scanning every bucket.
type nodeHeap struct {
	entries []NodeEntry
	target  crypto.NodeID
}

func (h *nodeHeap) Len() int { return len(h.entries) }

func (h *nodeHeap) Less(i, j int) bool {
	// Max-heap: the farthest entry sits at the root.
	return DistCmp(h.target, h.entries[i].ID, h.entries[j].ID) > 0
}

func (h *nodeHeap) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *nodeHeap) Push(x interface{}) { h.entries = append(h.entries, x.(NodeEntry)) }

func (h *nodeHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	item := old[n-1]
	h.entries = old[:n-1]
	return item
}

// offer adds e if the heap holds fewer than count entries or e is closer
// than the farthest one.
func (h *nodeHeap) offer(e NodeEntry, count int) {
	if h.Len() < count {
		heap.Push(h, e)
		return
	}
	if DistCmp(h.target, e.ID, h.entries[0].ID) < 0 {
		h.entries[0] = e
		heap.Fix(h, 0)
	}
}

// sorted drains the heap, closest first.
func (h *nodeHeap) sorted() []NodeEntry {
	result := make([]NodeEntry, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(NodeEntry)
	}
	return result
}
