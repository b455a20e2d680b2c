//go:build linux
// +build linux

package mntmonitor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	procNsMnt = "/proc/self/ns/mnt"
	// bufSize matches BUFSIZ; one read never returns more than this.
	bufSize = 8192
)

// nsRef is a mount namespace descriptor together with its ownership.
type nsRef interface {
	fd() int
	release(sys sysOps) error
}

// borrowedNS is supplied by the caller, who keeps ownership.
type borrowedNS int

func (n borrowedNS) fd() int              { return int(n) }
func (n borrowedNS) release(sysOps) error { return nil }

// ownedNS was opened by the monitor and is closed on release.
type ownedNS int

func (n ownedNS) fd() int { return int(n) }

func (n ownedNS) release(sys sysOps) error {
	if n < 0 {
		return nil
	}
	return sys.Close(int(n))
}

type fanotifyData struct {
	ns nsRef

	buf       [bufSize]byte
	cur       int // first unprocessed byte in buf
	remaining int // unprocessed bytes in buf
}

type fanotifyBackend struct{}

func fanotifyDataOf(e *entry) *fanotifyData {
	if e == nil {
		return nil
	}
	data, _ := e.data.(*fanotifyData)
	return data
}

func (fanotifyBackend) getFd(m *Monitor, e *entry) (int, error) {
	if e == nil || !e.enabled {
		return -1, ErrInvalidState
	}
	if e.fd >= 0 {
		return e.fd, nil
	}
	data := fanotifyDataOf(e)
	if data == nil || data.ns == nil {
		return -1, ErrInvalidState
	}
	m.log.Debug("opening fanotify", zap.String("path", e.path))

	fd, err := m.sys.FanotifyInit(fanReportMnt|unix.FAN_CLOEXEC|unix.FAN_NONBLOCK, 0)
	if err != nil {
		m.log.Debug("fanotify init failed", zap.Error(err))
		return -1, fmt.Errorf("fanotify init: %w", err)
	}
	err = m.sys.FanotifyMark(fd, unix.FAN_MARK_ADD|fanMarkMntns, fanMntAttach|fanMntDetach, data.ns.fd(), "")
	if err != nil {
		m.sys.Close(fd)
		m.log.Debug("fanotify mark failed", zap.Int("ns", data.ns.fd()), zap.Error(err))
		return -1, fmt.Errorf("fanotify mark namespace %s: %w", e.path, err)
	}
	e.fd = fd
	return fd, nil
}

func (fanotifyBackend) closeFd(m *Monitor, e *entry) error {
	if e.fd < 0 {
		return nil
	}
	fd := e.fd
	e.fd = -1
	return m.sys.Close(fd)
}

func (fanotifyBackend) freeData(m *Monitor, e *entry) error {
	data := fanotifyDataOf(e)
	if data == nil {
		return nil
	}
	e.data = nil
	if data.ns == nil {
		return nil
	}
	return data.ns.release(m.sys)
}

func (fanotifyBackend) processEvent(m *Monitor, e *entry) (bool, error) {
	if m == nil || e == nil || e.fd < 0 {
		return false, nil
	}
	data := fanotifyDataOf(e)
	if data == nil {
		return false, nil
	}
	data.remaining = 0
	data.cur = 0

	if m.kernelVeiled() {
		m.log.Debug("kernel event veiled", zap.String("path", e.path))
		for {
			n, err := m.sys.Read(e.fd, data.buf[:])
			if err != nil || n <= 0 {
				break
			}
		}
		return false, nil
	}

	n, err := m.sys.Read(e.fd, data.buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("read fanotify %s: %w", e.path, err)
	}
	if n <= 0 {
		return false, nil
	}
	data.remaining = n
	m.log.Debug("fanotify event", zap.Int("len", n))
	return true, nil
}

// EnableFanotify enables or disables the fanotify mount monitor for a mount
// namespace. ns is a caller-owned namespace file descriptor, or -1 for the
// namespace of the calling process. The descriptor passed in ns is never
// closed by the monitor. Several namespaces can be monitored at once.
//
// The change path reported for the entry is /proc/self/fd/<ns>, or
// /proc/self/ns/mnt for the default namespace.
//
// Requires Linux 6.15 or later and CAP_SYS_ADMIN in the user namespace
// owning the mount namespace. Errors wrap the unix.Errno returned by the
// kernel.
func (m *Monitor) EnableFanotify(enable bool, ns int) error {
	if m == nil {
		return ErrNilMonitor
	}
	if m.closed {
		return ErrClosed
	}
	if ns < 0 {
		ns = -1
	}
	if e := m.getEntry(TypeFanotify, ns); e != nil {
		if !enable {
			e.ops.closeFd(m, e)
		}
		return m.modifyEpoll(e, enable)
	}
	if !enable {
		return nil
	}
	m.log.Debug("allocate new fanotify monitor", zap.Int("ns", ns))

	e := m.newEntry()
	e.kind = TypeFanotify
	e.id = ns
	e.events = unix.EPOLLIN
	e.ops = fanotifyBackend{}

	data := &fanotifyData{}
	e.data = data
	if ns < 0 {
		fd, err := m.sys.Open(procNsMnt, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			m.freeEntry(e)
			m.log.Debug("failed to allocate fanotify monitor", zap.Error(err))
			return fmt.Errorf("open %s: %w", procNsMnt, err)
		}
		data.ns = ownedNS(fd)
		e.path = procNsMnt
	} else {
		data.ns = borrowedNS(ns)
		e.path = fmt.Sprintf("/proc/self/fd/%d", ns)
	}

	if err := m.modifyEpoll(e, true); err != nil {
		m.freeEntry(e)
		m.log.Debug("failed to allocate fanotify monitor", zap.Error(err))
		return err
	}
	return nil
}
