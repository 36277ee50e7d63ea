//go:build linux

package shmap

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// rwLock is the inter-process reader-writer lock serializing all map
// operations: a single lock object placed outside the shared data region
// (a second, tiny memfd of its own) so that any process holding its own
// description of the lock fd participates in the same flock(2)
// LOCK_SH/LOCK_EX exclusion.
type rwLock struct {
	fd int
}

// newRWLock creates the lock's backing memfd. It holds no bytes of
// interest; its only purpose is to be an open file description that
// flock(2) can serialize processes around.
func newRWLock() (*rwLock, error) {
	fd, err := unix.MemfdCreate("shmap-lock", 0)
	if err != nil {
		return nil, wrapErr(ErrLockFailed, errors.Wrap(err, "memfd_create"))
	}
	return &rwLock{fd: fd}, nil
}

// attachRWLock opens a fresh open file description for the lock object
// behind fd. flock(2) ties a lock to the open file description, not to
// the process: a handle that merely dup'd or inherited the creator's
// descriptor would share the creator's lock state instead of contending
// with it, so an attaching process must reopen the memfd through
// /proc/self/fd to get a description of its own.
func attachRWLock(fd int) (*rwLock, error) {
	nfd, err := unix.Open(fmt.Sprintf("/proc/self/fd/%d", fd), unix.O_RDWR, 0)
	if err != nil {
		return nil, wrapErr(ErrLockFailed, errors.Wrap(err, "reopen lock fd"))
	}
	return &rwLock{fd: nfd}, nil
}

func (l *rwLock) rLock() error {
	if err := unix.Flock(l.fd, unix.LOCK_SH); err != nil {
		return wrapErr(ErrLockFailed, errors.Wrap(err, "flock LOCK_SH"))
	}
	return nil
}

func (l *rwLock) wLock() error {
	if err := unix.Flock(l.fd, unix.LOCK_EX); err != nil {
		return wrapErr(ErrLockFailed, errors.Wrap(err, "flock LOCK_EX"))
	}
	return nil
}

func (l *rwLock) unlock() error {
	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		return wrapErr(ErrLockFailed, errors.Wrap(err, "flock LOCK_UN"))
	}
	return nil
}

func (l *rwLock) close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	if err != nil {
		return wrapErr(ErrLockFailed, errors.Wrap(err, "close"))
	}
	return nil
}
