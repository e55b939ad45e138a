package dht

import (
	"math/bits"

	"github.com/opd-ai/discv/crypto"
)

// NumBuckets is the number of distance classes of a 512-bit id space.
const NumBuckets = crypto.NodeIDLength * 8

// LogDistance returns bitlen(a XOR b): 0 for equal ids, otherwise the
// position of the highest differing bit plus one.
func LogDistance(a, b crypto.NodeID) int {
	lz := 0
	for i := range a {
		x := a[i] ^ b[i]
		if x == 0 {
			lz += 8
			continue
		}
		lz += bits.LeadingZeros8(x)
		break
	}
	return len(a)*8 - lz
}

// bucketIndex is the distance class of id relative to self, or -1 for self.
func bucketIndex(self, id crypto.NodeID) int {
	return LogDistance(self, id) - 1
}

// DistCmp compares the XOR distances a^target and b^target. It returns -1
// when a is closer, 1 when b is closer and 0 when they are equal.
func DistCmp(target, a, b crypto.NodeID) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da > db {
			return 1
		} else if da < db {
			return -1
		}
	}
	return 0
}
