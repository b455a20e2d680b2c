//go:build linux
// +build linux

package mntmonitor

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const procSelfMountinfo = "/proc/self/mountinfo"

// mountinfoBackend watches /proc/self/mountinfo, which the kernel marks
// with POLLPRI whenever the mount table of the namespace changes. There is
// no event data; every wake-up is a change.
type mountinfoBackend struct{}

func (mountinfoBackend) getFd(m *Monitor, e *entry) (int, error) {
	if e == nil || !e.enabled {
		return -1, ErrInvalidState
	}
	if e.fd >= 0 {
		return e.fd, nil
	}
	m.log.Debug("opening kernel monitor", zap.String("path", e.path))
	fd, err := m.sys.Open(e.path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", e.path, err)
	}
	e.fd = fd
	return fd, nil
}

func (mountinfoBackend) closeFd(m *Monitor, e *entry) error {
	if e.fd < 0 {
		return nil
	}
	fd := e.fd
	e.fd = -1
	return m.sys.Close(fd)
}

func (mountinfoBackend) freeData(*Monitor, *entry) error {
	return nil
}

func (mountinfoBackend) processEvent(m *Monitor, e *entry) (bool, error) {
	if e == nil || e.fd < 0 {
		return false, nil
	}
	if m.kernelVeiled() {
		m.log.Debug("kernel event veiled", zap.String("path", e.path))
		return false, nil
	}
	return true, nil
}

// EnableKernel enables or disables the classic kernel monitor which
// reports any change of the mount table of the current namespace without
// telling which mount changed. It works on every kernel and is the
// fallback when EnableFanotify fails.
func (m *Monitor) EnableKernel(enable bool) error {
	if m == nil {
		return ErrNilMonitor
	}
	if m.closed {
		return ErrClosed
	}
	if e := m.getEntry(TypeKernel, 0); e != nil {
		if !enable {
			e.ops.closeFd(m, e)
		}
		return m.modifyEpoll(e, enable)
	}
	if !enable {
		return nil
	}
	e := m.newEntry()
	e.kind = TypeKernel
	e.path = procSelfMountinfo
	e.events = unix.EPOLLPRI
	e.ops = mountinfoBackend{}
	if err := m.modifyEpoll(e, true); err != nil {
		m.freeEntry(e)
		return err
	}
	return nil
}
