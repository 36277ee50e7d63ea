//go:build linux

package shmap

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestInitDerivesBucketCountsFromMemorySize(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(1000, 0, 0)
	assert.NoError(err)
	defer m.Destroy()

	s, err := m.Stat()
	assert.NoError(err)
	assert.EqualValues(31, s.MaxBuckets)
	assert.EqualValues(31, s.MaxFreeBlocks)
	assert.EqualValues(1000, s.MemorySize)
	// Everything past the fixed segments belongs to the data arena.
	assert.Equal(s.MemorySize-s.HeaderSize-s.BucketFlagsSize-s.BucketsSize-s.FreeBlocksSize, s.DataSize)
}

func TestEndToEndSetGetDelete(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(4096, 0, 0)
	assert.NoError(err)
	defer m.Destroy()

	assert.NoError(m.Insert([]byte("hello"), []byte("world!")))

	v, err := m.Search([]byte("hello"))
	assert.NoError(err)
	assert.Equal("world!", string(v))

	assert.NoError(m.Delete([]byte("hello")))

	_, err = m.Search([]byte("hello"))
	assert.Equal(ErrNotFound, Code(err))

	s, err := m.Stat()
	assert.NoError(err)
	assert.EqualValues(0, s.UsedBuckets)
	assert.EqualValues(1, s.UsedFreeBlocks)
}

func TestSameSizeOverwriteLeavesFreelistUnchanged(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(4096, 0, 0)
	assert.NoError(err)
	defer m.Destroy()

	assert.NoError(m.Insert([]byte("k"), []byte("ab")))
	before, err := m.Stat()
	assert.NoError(err)

	assert.NoError(m.Insert([]byte("k"), []byte("cd")))
	v, err := m.Search([]byte("k"))
	assert.NoError(err)
	assert.Equal("cd", string(v))

	after, err := m.Stat()
	assert.NoError(err)
	assert.Equal(before.UsedFreeBlocks, after.UsedFreeBlocks)
	assert.Equal(before.UsedDataSize, after.UsedDataSize)
}

func TestDifferentSizeOverwriteGrowsFreelistByOne(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(4096, 0, 0)
	assert.NoError(err)
	defer m.Destroy()

	assert.NoError(m.Insert([]byte("k"), []byte("a")))
	before, err := m.Stat()
	assert.NoError(err)

	assert.NoError(m.Insert([]byte("k"), []byte("bbb")))
	v, err := m.Search([]byte("k"))
	assert.NoError(err)
	assert.Equal("bbb", string(v))

	after, err := m.Stat()
	assert.NoError(err)
	assert.Equal(before.UsedFreeBlocks+1, after.UsedFreeBlocks)
}

func TestDifferentSizeOverwriteWithoutSpaceIsAtomic(t *testing.T) {
	assert := assertion.New(t)
	// Size the arena so it holds exactly one small record and nothing
	// more: the second, larger write for the same key has neither tail
	// room nor a usable free block.
	l, err := calcRequiredMemorySize(0, 4, 4, 0)
	assert.NoError(err)
	m, err := Init(l.MemorySize+32, 4, 4)
	assert.NoError(err)
	defer m.Destroy()

	assert.NoError(m.Insert([]byte("k"), []byte("aa")))

	err = m.Insert([]byte("k"), []byte("bbbb"))
	assert.Equal(ErrNoSpace, Code(err))

	// The failed overwrite must not have released or clobbered the old
	// record.
	v, err := m.Search([]byte("k"))
	assert.NoError(err)
	assert.Equal("aa", string(v))

	s, err := m.Stat()
	assert.NoError(err)
	assert.EqualValues(0, s.UsedFreeBlocks)
	assert.EqualValues(1, s.UsedBuckets)
}

func TestBucketExhaustionReturnsNoEmptyBucket(t *testing.T) {
	assert := assertion.New(t)
	// max_buckets must be requested big enough to hold a 4-bucket table;
	// force max_buckets=4 explicitly via the sizing-by-buckets mode.
	m, err := Init(4096, 4, 0)
	assert.NoError(err)
	defer m.Destroy()

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	for _, k := range keys {
		assert.NoError(m.Insert(k, []byte("v")))
	}

	err = m.Insert([]byte("e"), []byte("v"))
	assert.Equal(ErrNoEmptyBucket, Code(err))
}

func TestFreelistExhaustionReturnsNoEmptyFreeBlockOnSecondDelete(t *testing.T) {
	assert := assertion.New(t)
	l, err := calcRequiredMemorySize(0, 8, 1, 64)
	assert.NoError(err)
	m, err := Init(l.MemorySize, 8, 1)
	assert.NoError(err)
	defer m.Destroy()

	assert.NoError(m.Insert([]byte("k1"), []byte("v1")))
	assert.NoError(m.Insert([]byte("k2"), []byte("v2")))

	assert.NoError(m.Delete([]byte("k1")))
	err = m.Delete([]byte("k2"))
	assert.Equal(ErrNoEmptyFreeBlock, Code(err))
}

func TestDeleteMissingKeyIsIdempotentNotFound(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(4096, 0, 0)
	assert.NoError(err)
	defer m.Destroy()

	before, err := m.Stat()
	assert.NoError(err)

	err = m.Delete([]byte("missing"))
	assert.Equal(ErrNotFound, Code(err))

	after, err := m.Stat()
	assert.NoError(err)
	assert.Equal(before, after)
}

func TestSpaceReclamationAfterDeletingAllKeys(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(4096, 16, 16)
	assert.NoError(err)
	defer m.Destroy()

	var keys [][]byte
	for i := 0; i < 10; i++ {
		keys = append(keys, []byte{byte('a' + i)})
	}
	for _, k := range keys {
		assert.NoError(m.Insert(k, []byte("0123456789")))
	}
	for _, k := range keys {
		assert.NoError(m.Delete(k))
	}
	for _, k := range keys {
		assert.NoError(m.Insert(k, []byte("0123456789")))
	}
}

func TestRandomizedOperationsMaintainInvariants(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(1<<16, 64, 64)
	assert.NoError(err)
	defer m.Destroy()

	rng := rand.New(rand.NewSource(1))
	oracle := map[string]string{}
	keys := make([]string, 24)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%02d", i)
	}

	for op := 0; op < 2000; op++ {
		k := keys[rng.Intn(len(keys))]

		if rng.Intn(3) < 2 {
			v := strings.Repeat("x", rng.Intn(20)) + fmt.Sprintf("#%d", op)
			if err := m.Insert([]byte(k), []byte(v)); err == nil {
				oracle[k] = v
			} else {
				assert.Contains(
					[]ErrCode{ErrNoSpace, ErrNoEmptyBucket, ErrNoEmptyFreeBlock},
					Code(err), "op %d", op)
			}
		} else {
			err := m.Delete([]byte(k))
			if _, live := oracle[k]; !live {
				assert.Equal(ErrNotFound, Code(err), "op %d", op)
			} else if err == nil {
				delete(oracle, k)
			} else {
				assert.Equal(ErrNoEmptyFreeBlock, Code(err), "op %d", op)
			}
		}

		assert.True(m.hdr.DataOffset <= m.hdr.DataTail, "op %d", op)
		assert.True(m.hdr.DataTail <= m.hdr.MemorySize, "op %d", op)
		assert.LessOrEqual(m.hdr.NumFreeBlocks, m.hdr.MaxFreeBlocks, "op %d", op)
	}

	s, err := m.Stat()
	assert.NoError(err)
	assert.EqualValues(len(oracle), s.UsedBuckets)

	fl := freelistView{reg: m.reg, hdr: m.hdr}
	list := m.reg.freelist()
	for i := 1; i < int(m.hdr.NumFreeBlocks); i++ {
		assert.LessOrEqual(fl.blockSize(list[i-1]), fl.blockSize(list[i]))
	}

	for k, want := range oracle {
		got, err := m.Search([]byte(k))
		assert.NoError(err, "key %s", k)
		assert.Equal(want, string(got), "key %s", k)
	}
}

func TestDestroyIsIdempotentForOwner(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(4096, 0, 0)
	assert.NoError(err)

	assert.NoError(m.Destroy())
	assert.NoError(m.Destroy())
}

func TestNonOwnerCannotDestroy(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(4096, 0, 0)
	assert.NoError(err)
	defer m.Destroy()

	attached, err := Attach(m.RegionFD(), m.LockFD())
	assert.NoError(err)

	err = attached.Destroy()
	assert.Equal(ErrPermission, Code(err))

	assert.NoError(attached.Detach())
}

func TestAttachSeesWritesFromOwner(t *testing.T) {
	assert := assertion.New(t)
	m, err := Init(4096, 0, 0)
	assert.NoError(err)
	defer m.Destroy()

	assert.NoError(m.Insert([]byte("shared"), []byte("value")))

	attached, err := Attach(m.RegionFD(), m.LockFD())
	assert.NoError(err)
	defer attached.Detach()

	v, err := attached.Search([]byte("shared"))
	assert.NoError(err)
	assert.Equal("value", string(v))
}
