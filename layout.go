package shmap

import "unsafe"

// OffsetT is the fixed-width type used for every byte offset and size
// stored inside the region, so the layout is identical across cooperating
// processes regardless of host int width.
type OffsetT = uint64

const offsetSize = OffsetT(unsafe.Sizeof(OffsetT(0)))

// header is the fixed-size segment at offset 0 of the region. Every field
// is a plain uint64 so the struct has no padding and the same in-memory
// shape on every architecture this module targets.
//
// size: 80, aligned: 8
type header struct {
	MemorySize     OffsetT
	MaxBucketFlags OffsetT
	MaxBuckets     OffsetT
	MaxFreeBlocks  OffsetT
	NumFreeBlocks  OffsetT

	BucketFlagsOffset OffsetT
	BucketsOffset     OffsetT
	FreelistOffset    OffsetT
	DataOffset        OffsetT
	DataTail          OffsetT
}

const headerSize = OffsetT(unsafe.Sizeof(header{}))

// recordHeaderSize is sizeof(recordHeader); see record.go.
const recordHeaderSize = OffsetT(unsafe.Sizeof(recordHeader{}))

// recordFooterAndSeparators accounts for the two trailing NUL bytes a
// record's key and value are terminated with.
const recordFooterAndSeparators = OffsetT(2)

// layout is the result of calc_required_memory_size: everything a caller
// needs to know about how a region of a given shape will be carved up.
type layout struct {
	MemorySize       OffsetT
	MaxBucketFlags   OffsetT
	MaxBuckets       OffsetT
	MaxFreeBlocks    OffsetT
	BucketFlagsSize  OffsetT
	BucketsSize      OffsetT
	FreeBlocksSize   OffsetT
	HeaderSize       OffsetT
	DataSize         OffsetT
	RecordHeaderSize OffsetT
	RecordSize       OffsetT
}

// getAlignedSize rounds size up to the natural alignment of OffsetT
// (8 bytes).
func getAlignedSize(size OffsetT) OffsetT {
	align := offsetSize
	return (size + align - 1) &^ (align - 1)
}

// calcRequiredMemorySize computes how a region of the given shape will
// be carved up. Sizing works in one of two modes: by max buckets plus an
// expected per-record key+value size, or by total memory (maxBuckets=0
// derives the bucket count from memorySize, and any bytes beyond the
// fixed segments become the data arena).
func calcRequiredMemorySize(memorySize, maxBuckets, maxFreeBlocks, recordKVSize OffsetT) (layout, error) {
	var l layout

	if maxBuckets == 0 {
		if memorySize == 0 {
			return l, newErr(ErrMemorySizeTooSmall)
		}
		maxBuckets = (memorySize / 4) / 8
	}
	if maxFreeBlocks == 0 {
		maxFreeBlocks = maxBuckets
	}

	l.MaxBucketFlags = (maxBuckets + 63) / 64
	l.MaxBuckets = maxBuckets
	l.MaxFreeBlocks = maxFreeBlocks

	l.BucketFlagsSize = l.MaxBucketFlags * 8
	l.BucketsSize = maxBuckets * offsetSize
	l.FreeBlocksSize = maxFreeBlocks * offsetSize
	l.HeaderSize = headerSize
	l.MemorySize = l.HeaderSize + l.BucketFlagsSize + l.BucketsSize + l.FreeBlocksSize

	l.RecordHeaderSize = recordHeaderSize + recordFooterAndSeparators
	if recordKVSize > 0 {
		l.RecordSize = l.RecordHeaderSize + recordKVSize
		l.DataSize = l.RecordSize * maxBuckets
		l.MemorySize += l.DataSize
	} else if memorySize > 0 {
		l.RecordSize = 0
		l.DataSize = 0
		if memorySize > l.MemorySize {
			l.DataSize = memorySize - l.MemorySize
			l.RecordSize = l.DataSize / l.RecordHeaderSize
		}
	}
	l.MemorySize = getAlignedSize(l.MemorySize)

	return l, nil
}

// segmentOffsets fills in the offset fields of a fresh header from a
// computed layout.
func (l layout) segmentOffsets() (bucketFlagsOffset, bucketsOffset, freelistOffset, dataOffset OffsetT) {
	bucketFlagsOffset = headerSize
	bucketsOffset = bucketFlagsOffset + l.BucketFlagsSize
	freelistOffset = bucketsOffset + l.BucketsSize
	dataOffset = freelistOffset + l.FreeBlocksSize
	return
}
