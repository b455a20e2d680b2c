//go:build linux
// +build linux

package mntmonitor

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Type identifies the backend of a monitor entry.
type Type int

const (
	// TypeKernel is the classic kernel monitor polling /proc/self/mountinfo.
	TypeKernel Type = iota + 1
	// TypeFanotify is the fanotify mount namespace monitor (Linux 6.15+).
	TypeFanotify
)

func (t Type) String() string {
	switch t {
	case TypeKernel:
		return "kernel"
	case TypeFanotify:
		return "fanotify"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// sysOps is the set of system calls the backends depend on.
type sysOps interface {
	FanotifyInit(flags, eventFlags uint) (int, error)
	FanotifyMark(fd int, flags uint, mask uint64, dirFd int, path string) error
	Open(path string, mode int, perm uint32) (int, error)
	Read(fd int, p []byte) (int, error)
	Close(fd int) error
}

type unixOps struct{}

func (unixOps) FanotifyInit(flags, eventFlags uint) (int, error) {
	return unix.FanotifyInit(flags, eventFlags)
}

func (unixOps) FanotifyMark(fd int, flags uint, mask uint64, dirFd int, path string) error {
	return unix.FanotifyMark(fd, flags, mask, dirFd, path)
}

func (unixOps) Open(path string, mode int, perm uint32) (int, error) {
	return unix.Open(path, mode, perm)
}

func (unixOps) Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func (unixOps) Close(fd int) error {
	return unix.Close(fd)
}

// backend is implemented by every kind of monitor entry.
//
// getFd returns the pollable descriptor, opening it on first use.
// processEvent reports whether the wake-up carried a change; it returns
// false when there is nothing to process.
type backend interface {
	getFd(m *Monitor, e *entry) (int, error)
	closeFd(m *Monitor, e *entry) error
	freeData(m *Monitor, e *entry) error
	processEvent(m *Monitor, e *entry) (bool, error)
}

type entry struct {
	fd      int
	kind    Type
	id      int
	path    string
	events  uint32
	enabled bool
	changed bool
	data    interface{}
	ops     backend
}

func (m *Monitor) getEntry(kind Type, id int) *entry {
	for _, e := range m.entries {
		if e.kind == kind && e.id == id {
			return e
		}
	}
	return nil
}

func (m *Monitor) newEntry() *entry {
	e := &entry{fd: -1}
	m.entries = append(m.entries, e)
	return e
}

// freeEntry closes the entry descriptor, releases its private data and
// drops it from the monitor.
func (m *Monitor) freeEntry(e *entry) error {
	if e == nil {
		return nil
	}
	var err error
	if e.ops != nil {
		err = multierr.Append(err, e.ops.closeFd(m, e))
		err = multierr.Append(err, e.ops.freeData(m, e))
	}
	for i, x := range m.entries {
		if x == e {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	if m.last == e {
		m.last = nil
	}
	return err
}

// modifyEpoll adds the entry to, or removes it from, the epoll set.
func (m *Monitor) modifyEpoll(e *entry, enable bool) error {
	e.enabled = enable
	e.changed = false
	if m.epfd < 0 {
		return nil
	}
	if enable {
		fd, err := e.ops.getFd(m, e)
		if err != nil {
			e.enabled = false
			return err
		}
		ev := unix.EpollEvent{Events: e.events, Fd: int32(fd)}
		if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil && !errors.Is(err, unix.EEXIST) {
			e.enabled = false
			m.log.Debug("epoll add failed", zap.Stringer("type", e.kind), zap.Int("fd", fd), zap.Error(err))
			// an unregistered descriptor must not outlive the failed enable
			return multierr.Append(fmt.Errorf("epoll add %s: %w", e.path, err), e.ops.closeFd(m, e))
		}
		return nil
	}
	if e.fd >= 0 {
		if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, e.fd, nil); err != nil && !errors.Is(err, unix.ENOENT) {
			m.log.Debug("epoll del failed", zap.Stringer("type", e.kind), zap.Int("fd", e.fd), zap.Error(err))
			return fmt.Errorf("epoll del %s: %w", e.path, err)
		}
	}
	return nil
}

func (m *Monitor) entryByFd(fd int32) *entry {
	for _, e := range m.entries {
		if e.fd >= 0 && int32(e.fd) == fd {
			return e
		}
	}
	return nil
}
