package shmap

// newTestRegion builds an in-process region (backed by a plain Go slice,
// no mmap) sized for maxBuckets/maxFreeBlocks with a data arena of
// dataSize bytes, for unit tests that exercise the freelist and bucket
// table directly without going through Init/Attach.
func newTestRegion(maxBuckets, maxFreeBlocks, dataSize OffsetT) region {
	l, err := calcRequiredMemorySize(0, maxBuckets, maxFreeBlocks, 0)
	if err != nil {
		panic(err)
	}

	total := l.MemorySize + dataSize
	mem := make([]byte, total)
	reg := region(mem)
	hdr := reg.header()

	hdr.MemorySize = total
	hdr.MaxBucketFlags = l.MaxBucketFlags
	hdr.MaxBuckets = l.MaxBuckets
	hdr.MaxFreeBlocks = l.MaxFreeBlocks
	hdr.NumFreeBlocks = 0

	bucketFlagsOffset, bucketsOffset, freelistOffset, dataOffset := l.segmentOffsets()
	hdr.BucketFlagsOffset = bucketFlagsOffset
	hdr.BucketsOffset = bucketsOffset
	hdr.FreelistOffset = freelistOffset
	hdr.DataOffset = dataOffset
	hdr.DataTail = dataOffset

	return reg
}
