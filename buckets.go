package shmap

import "math/bits"

// bucketsView exposes the open-addressed bucket table and its side "used"
// bitmap over a mapped region.
type bucketsView struct {
	reg region
	hdr *header
}

func (b bucketsView) isUsed(i OffsetT) bool {
	flags := b.reg.bucketFlags()
	return (flags[i/64]>>(i%64))&1 == 1
}

func (b bucketsView) setUsed(i OffsetT) {
	flags := b.reg.bucketFlags()
	flags[i/64] |= uint64(1) << (i % 64)
}

func (b bucketsView) unsetUsed(i OffsetT) {
	flags := b.reg.bucketFlags()
	flags[i/64] &^= uint64(1) << (i % 64)
}

// popcount returns the number of buckets currently marked used.
func (b bucketsView) popcount() uint64 {
	var count uint64
	for _, word := range b.reg.bucketFlags() {
		count += uint64(bits.OnesCount64(word))
	}
	return count
}

// findResult is the outcome of probing for a key.
type findResult struct {
	recordOffset OffsetT // 0 if not found
	bucketIndex  OffsetT // insertion candidate if recordOffset == 0
	tableFull    bool    // true iff bucketIndex has no meaning (== MaxBuckets)
}

// find walks up to MaxBuckets slots from the key's home slot. Only an
// offset-zero slot terminates the probe; a tombstone (used-bit clear,
// offset non-zero) is probed through. The earliest tombstone seen is
// reported as the insertion candidate in preference to the terminating
// never-used slot, so reclaimed slots are recycled promptly.
func (b bucketsView) find(key []byte) findResult {
	hash := hashKey(key)
	buckets := b.reg.buckets()
	maxBuckets := b.hdr.MaxBuckets
	home := hash % maxBuckets

	haveCandidate := false
	var candidate OffsetT

	for i := OffsetT(0); i < maxBuckets; i++ {
		idx := (home + i) % maxBuckets
		offset := buckets[idx]

		if offset == 0 {
			if !haveCandidate {
				candidate = idx
				haveCandidate = true
			}
			return findResult{bucketIndex: candidate}
		}

		if b.isUsed(idx) {
			if b.reg.recordMatches(offset, hash, key) {
				return findResult{recordOffset: offset, bucketIndex: idx}
			}
			continue
		}

		// Tombstone: occupied for probing purposes, but eligible for
		// reuse. Remember the first one seen.
		if !haveCandidate {
			candidate = idx
			haveCandidate = true
		}
	}

	if haveCandidate {
		return findResult{bucketIndex: candidate}
	}
	return findResult{bucketIndex: maxBuckets, tableFull: true}
}
