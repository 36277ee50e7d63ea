package shmap

// Stat reports a region's sizing fields recomputed from its header plus
// live usage counters.
type Stat struct {
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

	UsedBuckets    uint64
	UsedFreeBlocks OffsetT
	UsedDataSize   OffsetT
}

// CalcRequiredMemorySize reports how a region of the given shape would
// be laid out, without creating anything. Sizing works in one of two
// modes: pass a total memorySize (maxBuckets=0 derives the bucket count
// from it), or pass maxBuckets plus the expected per-record key+value
// size and hand the resulting MemorySize to Init.
func CalcRequiredMemorySize(memorySize, maxBuckets, maxFreeBlocks, recordKVSize OffsetT) (Stat, error) {
	l, err := calcRequiredMemorySize(memorySize, maxBuckets, maxFreeBlocks, recordKVSize)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		MemorySize:       l.MemorySize,
		MaxBucketFlags:   l.MaxBucketFlags,
		MaxBuckets:       l.MaxBuckets,
		MaxFreeBlocks:    l.MaxFreeBlocks,
		BucketFlagsSize:  l.BucketFlagsSize,
		BucketsSize:      l.BucketsSize,
		FreeBlocksSize:   l.FreeBlocksSize,
		HeaderSize:       l.HeaderSize,
		DataSize:         l.DataSize,
		RecordHeaderSize: l.RecordHeaderSize,
		RecordSize:       l.RecordSize,
	}, nil
}

// Stat reports sizing and usage information under a shared lock.
func (m *Map) Stat() (Stat, error) {
	if err := m.lock.rLock(); err != nil {
		return Stat{}, err
	}
	defer m.unlockRead()

	var s Stat
	s.MemorySize = m.hdr.MemorySize
	s.MaxBucketFlags = m.hdr.MaxBucketFlags
	s.MaxBuckets = m.hdr.MaxBuckets
	s.MaxFreeBlocks = m.hdr.MaxFreeBlocks
	s.BucketFlagsSize = m.hdr.MaxBucketFlags * 8
	s.BucketsSize = m.hdr.MaxBuckets * offsetSize
	s.FreeBlocksSize = m.hdr.MaxFreeBlocks * offsetSize
	s.HeaderSize = headerSize
	s.DataSize = m.hdr.MemorySize - m.hdr.DataOffset
	s.RecordHeaderSize = recordHeaderSize + recordFooterAndSeparators

	b := bucketsView{reg: m.reg, hdr: m.hdr}
	s.UsedBuckets = b.popcount()
	s.UsedFreeBlocks = m.hdr.NumFreeBlocks
	s.UsedDataSize = m.hdr.DataTail - m.hdr.DataOffset

	return s, nil
}
