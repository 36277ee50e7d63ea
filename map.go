// Package shmap implements a fixed-capacity, shared-memory hashmap
// engine: a single contiguous region holding a header, a bucket array,
// an inline freelist, and a data arena, addressed entirely by byte
// offsets so cooperating processes mapping the same region observe
// identical structure. All mutation is serialized by a reader-writer
// lock whose synchronization object lives outside the region.
package shmap

import (
	"os"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Map is a handle onto a region. A handle returned by Init owns the
// region and its lock; a handle returned by Attach does not — only the
// owning handle may Destroy the region.
type Map struct {
	reg  region
	hdr  *header
	lock *rwLock

	regionFD int
	owner    bool

	mu     sync.Mutex
	closed bool
}

// Init creates a fresh region and returns an owning handle. memorySize
// is the total size the caller is willing to dedicate to the region;
// maxBuckets and maxFreeBlocks are optional sizing hints (maxBuckets=0
// derives the bucket count from memorySize; maxFreeBlocks=0 uses the
// bucket count).
func Init(memorySize, maxBuckets, maxFreeBlocks OffsetT) (*Map, error) {
	memorySize = getAlignedSize(memorySize)
	l, err := calcRequiredMemorySize(memorySize, maxBuckets, maxFreeBlocks, 0)
	if err != nil {
		return nil, err
	}
	if memorySize < l.MemorySize {
		return nil, newErr(ErrMemorySizeTooSmall)
	}

	lock, err := newRWLock()
	if err != nil {
		return nil, err
	}

	// The region spans the full requested size, not just the computed
	// fixed overhead — everything past the segment offsets is data arena.
	fd, mem, err := createSharedMemory("shmap-region", memorySize)
	if err != nil {
		_ = lock.close()
		return nil, err
	}

	reg := region(mem)
	hdr := reg.header()
	hdr.MemorySize = memorySize
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

	m := &Map{
		reg:      reg,
		hdr:      hdr,
		lock:     lock,
		regionFD: fd,
		owner:    true,
	}
	runtime.SetFinalizer(m, finalizeMap)
	return m, nil
}

// finalizeMap reclaims a handle that was never explicitly closed: an
// owning handle is destroyed, an attached handle is detached. Without
// this, a dropped handle would leak its mapping and descriptors for the
// process lifetime.
func finalizeMap(m *Map) {
	m.mu.Lock()
	alreadyClosed := m.closed
	owner := m.owner
	m.mu.Unlock()

	if alreadyClosed {
		return
	}
	log.WithField("pid", os.Getpid()).Warn("shmap: finalizing unclosed handle")
	if owner {
		if err := m.Destroy(); err != nil {
			log.WithError(err).Error("shmap: finalizer destroy failed")
		}
		return
	}
	if err := m.Detach(); err != nil {
		log.WithError(err).Error("shmap: finalizer detach failed")
	}
}

// RegionFD and LockFD expose the raw file descriptors backing this
// handle's memory region and lock object, so a creating process can pass
// them to a child (e.g. via os/exec's ExtraFiles) for that child to
// Attach with.
func (m *Map) RegionFD() int { return m.regionFD }
func (m *Map) LockFD() int   { return m.lock.fd }

// Attach maps an existing region (created by another process's Init)
// given the raw file descriptors for its data region and lock, e.g. as
// inherited through os/exec's ExtraFiles. The handle works on its own
// duplicates of both descriptors — the caller's copies stay open and
// usable — and takes its own open file description for the lock, so its
// flock acquisitions genuinely contend with the creator's. The resulting
// handle does not own the region: Destroy on it fails with
// ErrPermission, and its own cleanup only detaches the local mapping via
// Detach.
func Attach(regionFD, lockFD int) (*Map, error) {
	size, err := peekMemorySize(regionFD)
	if err != nil {
		return nil, err
	}
	fd, err := dupFD(regionFD)
	if err != nil {
		return nil, err
	}
	mem, err := attachSharedMemory(fd, size)
	if err != nil {
		_ = releaseSharedMemory(fd, nil)
		return nil, err
	}
	lock, err := attachRWLock(lockFD)
	if err != nil {
		_ = releaseSharedMemory(fd, mem)
		return nil, err
	}

	reg := region(mem)
	m := &Map{
		reg:      reg,
		hdr:      reg.header(),
		lock:     lock,
		regionFD: fd,
		owner:    false,
	}
	runtime.SetFinalizer(m, finalizeMap)
	return m, nil
}

// Detach releases this process's local view of a region it does not own,
// without affecting the region's lifetime for any other process still
// attached to it. Owning handles must use Destroy instead.
func (m *Map) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner {
		return newErr(ErrPermission)
	}
	if m.closed {
		return nil
	}
	err := releaseSharedMemory(m.regionFD, m.reg)
	if e := m.lock.close(); e != nil && err == nil {
		err = e
	}
	m.closed = true
	runtime.SetFinalizer(m, nil)
	return err
}

// Destroy releases the region and its lock. Only the creating handle may
// do so; any other handle's call to Destroy returns ErrPermission
// without touching the region. A second call from the creator is a no-op
// returning nil.
func (m *Map) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.owner {
		return newErr(ErrPermission)
	}
	if m.closed {
		return nil
	}

	if err := m.lock.wLock(); err != nil {
		return err
	}
	err := releaseSharedMemory(m.regionFD, m.reg)
	if e := m.lock.unlock(); e != nil {
		log.WithError(e).Warn("shmap: unlock during destroy failed")
	}
	if e := m.lock.close(); e != nil && err == nil {
		err = e
	}

	m.closed = true
	runtime.SetFinalizer(m, nil)
	return err
}

// Insert stores value under key. A same-length overwrite replaces the
// value in place; a different-length overwrite is atomic — the new
// record is placed before the old one's space is released, so either the
// insert succeeds or it fails with ErrNoSpace and the map is left
// exactly as it was.
func (m *Map) Insert(key, value []byte) error {
	if err := m.lock.wLock(); err != nil {
		return err
	}
	defer m.unlockWrite()

	b := bucketsView{reg: m.reg, hdr: m.hdr}
	fl := freelistView{reg: m.reg, hdr: m.hdr}
	fr := b.find(key)

	if fr.recordOffset == 0 && fr.tableFull {
		return newErr(ErrNoEmptyBucket)
	}

	required := recordFootprintFor(len(key), len(value))

	var oldOffset, oldFootprint OffsetT
	if fr.recordOffset != 0 {
		existing := m.reg.recordAt(fr.recordOffset)
		if existing.ValueSize == OffsetT(len(value)) {
			m.reg.overwriteValue(fr.recordOffset, value)
			return nil
		}

		// The old record's block will need a freelist slot once the new
		// record is in place.
		if fl.full() {
			return newErr(ErrNoEmptyFreeBlock)
		}
		oldOffset, oldFootprint = fr.recordOffset, existing.footprint()
	}

	var insertOffset OffsetT
	usedTail := false
	if m.hdr.MemorySize-m.hdr.DataTail >= required {
		insertOffset = m.hdr.DataTail
		usedTail = true
	} else {
		insertOffset = fl.findFreeBlock(uint64(required))
		if insertOffset == noBlock {
			return newErr(ErrNoSpace)
		}
	}

	hash := hashKey(key)
	m.reg.writeRecord(insertOffset, hash, key, value)
	m.reg.buckets()[fr.bucketIndex] = insertOffset
	b.setUsed(fr.bucketIndex)
	if usedTail {
		m.hdr.DataTail += required
	}

	if oldFootprint != 0 {
		// Room is guaranteed: the full() check above ran before placement
		// and findFreeBlock never grows the list.
		fl.addFreeBlock(oldOffset, uint64(oldFootprint))
	}
	return nil
}

// Delete removes key: its arena space goes back to the freelist and its
// bucket's used bit is cleared. The bucket keeps its stale offset so
// probes for other keys continue past it.
func (m *Map) Delete(key []byte) error {
	if err := m.lock.wLock(); err != nil {
		return err
	}
	defer m.unlockWrite()

	b := bucketsView{reg: m.reg, hdr: m.hdr}
	fr := b.find(key)
	if fr.recordOffset == 0 {
		return newErr(ErrNotFound)
	}

	fl := freelistView{reg: m.reg, hdr: m.hdr}
	if fl.full() {
		return newErr(ErrNoEmptyFreeBlock)
	}

	rec := m.reg.recordAt(fr.recordOffset)
	fl.addFreeBlock(fr.recordOffset, uint64(rec.footprint()))
	b.unsetUsed(fr.bucketIndex)
	return nil
}

// Search returns a copy of the value stored under key. The bytes are
// copied out while the shared lock is still held: a returned slice
// aliasing the mapped region could be mutated or reclaimed by a
// concurrent writer the instant the lock is released.
func (m *Map) Search(key []byte) ([]byte, error) {
	if err := m.lock.rLock(); err != nil {
		return nil, err
	}
	defer m.unlockRead()

	b := bucketsView{reg: m.reg, hdr: m.hdr}
	fr := b.find(key)
	if fr.recordOffset == 0 {
		return nil, newErr(ErrNotFound)
	}

	src := m.reg.recordValue(fr.recordOffset)
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (m *Map) unlockWrite() {
	if err := m.lock.unlock(); err != nil {
		log.WithError(err).Error("shmap: failed to release write lock")
	}
}

func (m *Map) unlockRead() {
	if err := m.lock.unlock(); err != nil {
		log.WithError(err).Error("shmap: failed to release read lock")
	}
}
