//go:build linux

package shmap

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// createSharedMemory backs a region of size bytes with an anonymous,
// memfd-backed file and maps it MAP_SHARED, PROT_READ|PROT_WRITE. Unlike
// plain MAP_ANONYMOUS, a memfd carries a file descriptor that can be
// duplicated or inherited by a child process, which is what actually
// lets more than one process share the mapping.
func createSharedMemory(name string, size OffsetT) (fd int, mem []byte, err error) {
	fd, err = unix.MemfdCreate(name, 0)
	if err != nil {
		return -1, nil, wrapErr(ErrMapFailed, errors.Wrap(err, "memfd_create"))
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, nil, wrapErr(ErrMapFailed, errors.Wrap(err, "ftruncate"))
	}

	mem, err = unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return -1, nil, wrapErr(ErrMapFailed, errors.Wrap(err, "mmap"))
	}

	return fd, mem, nil
}

// attachSharedMemory maps an already-sized memfd (or any regular file)
// identified by fd, for a process that did not create the region.
func attachSharedMemory(fd int, size OffsetT) (mem []byte, err error) {
	mem, err = unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, wrapErr(ErrMapFailed, errors.Wrap(err, "mmap"))
	}
	return mem, nil
}

// dupFD duplicates fd so an attached handle owns descriptors whose
// lifetime is independent of the caller's copies.
func dupFD(fd int) (int, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return -1, wrapErr(ErrMapFailed, errors.Wrap(err, "dup"))
	}
	return nfd, nil
}

// peekMemorySize reads the memory_size field out of an already-sized
// region fd without knowing its full extent in advance: it maps just the
// header, reads the field, and unmaps again. Used by Attach, which is
// handed a bare fd and has no other way to learn how many bytes to map.
func peekMemorySize(fd int) (OffsetT, error) {
	mem, err := unix.Mmap(fd, 0, int(headerSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return 0, wrapErr(ErrMapFailed, errors.Wrap(err, "mmap header"))
	}
	defer unix.Munmap(mem)
	return region(mem).header().MemorySize, nil
}

// releaseSharedMemory unmaps mem and closes fd. It does not truncate or
// otherwise destroy the backing memfd's contents beyond what munmap does
// — the OS reclaims the memfd's storage once every fd referencing it is
// closed.
func releaseSharedMemory(fd int, mem []byte) error {
	var err error
	if mem != nil {
		if e := unix.Munmap(mem); e != nil {
			err = errors.Wrap(e, "munmap")
		}
	}
	if fd >= 0 {
		if e := unix.Close(fd); e != nil && err == nil {
			err = errors.Wrap(e, "close")
		}
	}
	if err != nil {
		return wrapErr(ErrMapFailed, err)
	}
	return nil
}
