package dht

import (
	"crypto/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/discv/crypto"
)

func randomID(t *testing.T) crypto.NodeID {
	t.Helper()
	var id crypto.NodeID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

func TestLogDistance(t *testing.T) {
	var a crypto.NodeID
	assert.Equal(t, 0, LogDistance(a, a))

	b := a
	b[crypto.NodeIDLength-1] = 0x01
	assert.Equal(t, 1, LogDistance(a, b))

	b = a
	b[0] = 0x80
	assert.Equal(t, NumBuckets, LogDistance(a, b))

	b = a
	b[1] = 0x10
	assert.Equal(t, 512-8-3, LogDistance(a, b))
	assert.Equal(t, LogDistance(a, b), LogDistance(b, a))
}

func TestBucketIndexMatchesHelper(t *testing.T) {
	self := randomID(t)
	for _, bucket := range []int{0, 7, 8, 15, 16, 255, 300, 511} {
		id := idInBucket(self, bucket, 5)
		assert.Equal(t, bucket, bucketIndex(self, id), "bucket %d", bucket)
	}
	assert.Equal(t, -1, bucketIndex(self, self))
}

func TestDistCmp(t *testing.T) {
	var target, near, far crypto.NodeID
	near[crypto.NodeIDLength-1] = 0x01
	far[0] = 0x01

	assert.Equal(t, -1, DistCmp(target, near, far))
	assert.Equal(t, 1, DistCmp(target, far, near))
	assert.Equal(t, 0, DistCmp(target, near, near))
}

func TestKBucketReplacements(t *testing.T) {
	var b kBucket
	ids := []crypto.NodeID{{1}, {2}, {3}}

	for _, id := range ids {
		b.addReplacement(candidate{id: id, endpoint: publicEndpoint(int(id[0]))}, 2)
	}
	require.Len(t, b.replacements, 2)
	assert.Equal(t, ids[1], b.replacements[0].id)

	// Re-adding moves a candidate to the back.
	b.addReplacement(candidate{id: ids[1]}, 2)
	assert.Equal(t, ids[2], b.replacements[0].id)
	assert.Equal(t, ids[1], b.replacements[1].id)

	c, ok := b.popReplacement()
	require.True(t, ok)
	assert.Equal(t, ids[2], c.id)

	b.removeReplacement(ids[1])
	_, ok = b.popReplacement()
	assert.False(t, ok)

	b.addReplacement(candidate{id: ids[0]}, 0)
	assert.Empty(t, b.replacements)
}

func TestKBucketMoveToBack(t *testing.T) {
	b := kBucket{entries: []handle{1, 2, 3}}
	b.moveToBack(1)
	assert.Equal(t, []handle{2, 3, 1}, b.entries)
	b.moveToBack(1)
	assert.Equal(t, []handle{2, 3, 1}, b.entries)
	assert.True(t, b.remove(3))
	assert.False(t, b.remove(3))
	assert.Equal(t, []handle{2, 1}, b.entries)
}

func TestArenaReusesSlots(t *testing.T) {
	var a arena
	h1 := a.alloc(NodeEntry{ID: crypto.NodeID{1}})
	h2 := a.alloc(NodeEntry{ID: crypto.NodeID{2}})
	assert.Equal(t, 2, a.len())

	a.release(h1)
	assert.Nil(t, a.get(h1))
	assert.Equal(t, 1, a.len())
	a.release(h1)
	assert.Equal(t, 1, a.len(), "double release is ignored")

	h3 := a.alloc(NodeEntry{ID: crypto.NodeID{3}})
	assert.Equal(t, h1, h3, "released slot is reused")
	assert.Equal(t, crypto.NodeID{3}, a.get(h3).ID)
	assert.Equal(t, crypto.NodeID{2}, a.get(h2).ID)
	assert.Nil(t, a.get(handle(99)))
}

func TestFindNodeOrdering(t *testing.T) {
	tt := newTestTable(t)

	var all []crypto.NodeID
	for i := 0; i < 200; i++ {
		id := randomID(t)
		tt.NoteActiveNode(id, publicEndpoint(i))
		if tt.Has(id) {
			all = append(all, id)
		}
	}
	require.NotEmpty(t, all)

	for i := 0; i < 10; i++ {
		target := randomID(t)
		got := tt.FindNode(target)

		want := append([]crypto.NodeID(nil), all...)
		sort.Slice(want, func(i, j int) bool { return DistCmp(target, want[i], want[j]) < 0 })
		if len(want) > tt.cfg.BucketSize {
			want = want[:tt.cfg.BucketSize]
		}

		require.Len(t, got, len(want))
		for j := range got {
			assert.Equal(t, want[j], got[j].ID, "position %d", j)
			assert.NotEqual(t, tt.self, got[j].ID)
			if j > 0 {
				assert.True(t, DistCmp(target, got[j-1].ID, got[j].ID) <= 0, "results sorted by distance")
			}
		}
	}

	assert.Empty(t, newTestTable(t).FindNode(randomID(t)))
	tt.assertConsistent(t)
}
