package shmap

import (
	"bytes"
	"unsafe"
)

// recordHeader precedes every key/value pair stored in the arena. It is
// followed by key_size bytes of key, one NUL, value_size bytes of value,
// and a second NUL — the NULs are not part of the stored lengths, they
// only exist so callers get NUL-terminated pointers for free.
//
// size: 24, aligned: 8
type recordHeader struct {
	Hash      uint64
	KeySize   OffsetT
	ValueSize OffsetT
}

// footprint returns the total number of bytes this record occupies in the
// arena, including its header and both terminators.
func (r *recordHeader) footprint() OffsetT {
	return recordHeaderSize + r.KeySize + r.ValueSize + recordFooterAndSeparators
}

// recordFootprintFor computes the footprint a record with the given key
// and value lengths would occupy, without requiring a live record.
func recordFootprintFor(keyLen, valueLen int) OffsetT {
	return recordHeaderSize + OffsetT(keyLen) + OffsetT(valueLen) + recordFooterAndSeparators
}

// region is a byte-addressed view over the mapped memory. Every accessor
// takes an offset and computes a fresh pointer on each call — absolute
// addresses are never cached across a lock boundary, since a different
// process may have the region mapped at a different base address.
type region []byte

func (r region) header() *header {
	return (*header)(unsafe.Pointer(&r[0]))
}

func (r region) blockSizeAt(offset OffsetT) *uint64 {
	return (*uint64)(unsafe.Pointer(&r[offset]))
}

func (r region) recordAt(offset OffsetT) *recordHeader {
	return (*recordHeader)(unsafe.Pointer(&r[offset]))
}

func (r region) freelist() []OffsetT {
	h := r.header()
	base := unsafe.Pointer(&r[h.FreelistOffset])
	return unsafe.Slice((*OffsetT)(base), h.MaxFreeBlocks)
}

func (r region) bucketFlags() []uint64 {
	h := r.header()
	base := unsafe.Pointer(&r[h.BucketFlagsOffset])
	return unsafe.Slice((*uint64)(base), h.MaxBucketFlags)
}

func (r region) buckets() []OffsetT {
	h := r.header()
	base := unsafe.Pointer(&r[h.BucketsOffset])
	return unsafe.Slice((*OffsetT)(base), h.MaxBuckets)
}

// recordKey returns the key bytes of the record at offset (without the
// trailing NUL).
func (r region) recordKey(offset OffsetT) []byte {
	rec := r.recordAt(offset)
	start := offset + recordHeaderSize
	return r[start : start+rec.KeySize]
}

// recordValue returns the value bytes of the record at offset (without
// the trailing NUL).
func (r region) recordValue(offset OffsetT) []byte {
	rec := r.recordAt(offset)
	start := offset + recordHeaderSize + rec.KeySize + 1
	return r[start : start+rec.ValueSize]
}

// writeRecord writes a fresh record header plus NUL-terminated key/value
// bytes at offset.
func (r region) writeRecord(offset OffsetT, hash uint64, key, value []byte) {
	rec := r.recordAt(offset)
	rec.Hash = hash
	rec.KeySize = OffsetT(len(key))
	rec.ValueSize = OffsetT(len(value))

	pos := offset + recordHeaderSize
	copy(r[pos:], key)
	pos += OffsetT(len(key))
	r[pos] = 0
	pos++
	copy(r[pos:], value)
	pos += OffsetT(len(value))
	r[pos] = 0
}

// overwriteValue replaces the value bytes of an existing record in place.
// Caller guarantees len(value) == existing record's ValueSize.
func (r region) overwriteValue(offset OffsetT, value []byte) {
	rec := r.recordAt(offset)
	pos := offset + recordHeaderSize + rec.KeySize + 1
	copy(r[pos:], value)
	r[pos+OffsetT(len(value))] = 0
}

func (r region) recordMatches(offset OffsetT, hash uint64, key []byte) bool {
	rec := r.recordAt(offset)
	if rec.Hash != hash || rec.KeySize != OffsetT(len(key)) {
		return false
	}
	return bytes.Equal(r.recordKey(offset), key)
}
