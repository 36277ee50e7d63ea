package shmap

import "sort"

// sizeHeaderLen is the width of the size prefix stored at the start of
// every free block.
const sizeHeaderLen = OffsetT(8)

// noBlock is the sentinel offset returned by findFreeBlock when no block
// large enough exists. Offset 0 is never a valid record or free-block
// offset (it always lands inside the header), so it doubles safely as
// "not found" the same way it doubles as "slot never used" for buckets.
const noBlock = OffsetT(0)

// freelistView exposes the size-sorted free-block array over a mapped
// region: a bounded array of arena offsets ordered ascending by the size
// stored at each offset.
type freelistView struct {
	reg region
	hdr *header
}

func (f freelistView) blockSize(offset OffsetT) uint64 {
	return *f.reg.blockSizeAt(offset)
}

func (f freelistView) setBlockSize(offset OffsetT, size uint64) {
	*f.reg.blockSizeAt(offset) = size
}

func (f freelistView) full() bool {
	return f.hdr.NumFreeBlocks >= f.hdr.MaxFreeBlocks
}

// lowerBound returns the index of the first entry whose block size is >=
// size, using the current NumFreeBlocks-length prefix of the array.
func (f freelistView) lowerBound(list []OffsetT, size uint64) int {
	n := int(f.hdr.NumFreeBlocks)
	return sort.Search(n, func(i int) bool {
		return f.blockSize(list[i]) >= size
	})
}

func (f freelistView) removeAt(list []OffsetT, idx int) {
	n := int(f.hdr.NumFreeBlocks)
	copy(list[idx:n-1], list[idx+1:n])
	f.hdr.NumFreeBlocks--
}

// addFreeBlock inserts a free block of payloadSize bytes at offset,
// merging with its right neighbor when the new block ends exactly where
// that neighbor begins. Caller guarantees the freelist is not full and
// payloadSize >= sizeHeaderLen.
func (f freelistView) addFreeBlock(offset OffsetT, payloadSize uint64) {
	storedSize := payloadSize + uint64(sizeHeaderLen)
	list := f.reg.freelist()
	left := f.lowerBound(list, storedSize)

	if f.hdr.NumFreeBlocks > 0 && left < int(f.hdr.NumFreeBlocks) &&
		offset+OffsetT(storedSize) == list[left] {
		// Merge with the neighbor immediately to the right.
		combined := storedSize + f.blockSize(list[left])
		list[left] = offset
		f.setBlockSize(offset, combined)

		// Bubble rightward until sorted order is restored.
		n := int(f.hdr.NumFreeBlocks) - 1
		for i := left; i < n; i++ {
			nextSize := f.blockSize(list[i+1])
			if nextSize < combined {
				list[i], list[i+1] = list[i+1], list[i]
				continue
			}
			break
		}
		return
	}

	n := int(f.hdr.NumFreeBlocks)
	copy(list[left+1:n+1], list[left:n])
	list[left] = offset
	f.setBlockSize(offset, storedSize)
	f.hdr.NumFreeBlocks++
}

// findFreeBlock removes and returns the offset of a block able to hold
// required bytes, splitting off any leftover remainder back into the
// freelist. Returns noBlock if nothing suitable is available.
func (f freelistView) findFreeBlock(required uint64) OffsetT {
	if f.hdr.NumFreeBlocks == 0 {
		return noBlock
	}

	list := f.reg.freelist()
	requiredStored := required + uint64(sizeHeaderLen)
	left := f.lowerBound(list, requiredStored)
	if left >= int(f.hdr.NumFreeBlocks) {
		return noBlock
	}

	offset := list[left]
	blockSize := f.blockSize(offset)
	remaining := blockSize - requiredStored

	if remaining == 0 {
		f.removeAt(list, left)
		return offset
	}
	if remaining < 2*uint64(sizeHeaderLen) || f.full() {
		// The leftover cannot host its own size header plus a minimum
		// payload, or there is nowhere to record it — this block cannot
		// be used at all.
		return noBlock
	}

	f.removeAt(list, left)
	f.addFreeBlock(offset+OffsetT(requiredStored), remaining-uint64(sizeHeaderLen))
	return offset
}
