//go:build linux
// +build linux

package mntmonitor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultVeilMarker is the file whose presence means a userspace mount
// helper is updating the mount table and owns the change notification.
const DefaultVeilMarker = "/run/mount/utab.act"

var (
	// ErrCapSysAdmin indicates caller is missing CAP_SYS_ADMIN permissions
	ErrCapSysAdmin = errors.New("require CAP_SYS_ADMIN capability")
	// ErrNilMonitor indicates the monitor is nil
	ErrNilMonitor = errors.New("nil monitor")
	// ErrClosed indicates the monitor has been closed
	ErrClosed = errors.New("monitor closed")
	// ErrInvalidState indicates an operation on a disabled or uninitialized monitor entry
	ErrInvalidState = errors.New("monitor entry not enabled")
	// ErrUnsupportedOnKernelVersion indicates the feature/flag is unavailable for the current kernel version
	ErrUnsupportedOnKernelVersion = errors.New("feature unsupported on current kernel version")
)

// Change is returned by NextChange for every monitor entry that reported a
// change of the mount table.
type Change struct {
	// Path is the file associated with the entry: the namespace file for
	// fanotify monitors and /proc/self/mountinfo for the kernel monitor.
	Path string
	// Type is the backend which reported the change.
	Type Type
}

// Monitor aggregates mount table monitors into a single epoll descriptor.
//
// A Monitor is not safe for concurrent use; callers sharing one between
// goroutines must serialize all calls.
type Monitor struct {
	epfd    int
	entries []*entry
	// entry of the most recent change, source of NextEvent
	last   *entry
	closed bool

	veiled     bool
	veilMarker string
	veilProbe  func() bool

	sys sysOps
	log *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used for debug traces. The monitor never logs
// above debug level.
func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) {
		if log != nil {
			m.log = log
		}
	}
}

// WithKernelVeiled hides kernel events while the veil marker exists.
func WithKernelVeiled(veiled bool) Option {
	return func(m *Monitor) {
		m.veiled = veiled
	}
}

// WithVeilMarker overrides DefaultVeilMarker.
func WithVeilMarker(path string) Option {
	return func(m *Monitor) {
		m.veilMarker = path
	}
}

// New returns a Monitor with an empty epoll set. Monitors are added with
// EnableFanotify and EnableKernel.
func New(opts ...Option) (*Monitor, error) {
	m := &Monitor{
		epfd:       -1,
		veilMarker: DefaultVeilMarker,
		sys:        unixOps{},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.veilProbe = func() bool {
		return unix.Access(m.veilMarker, unix.F_OK) == nil
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	m.epfd = fd
	return m, nil
}

// SetKernelVeiled toggles veiled mode. While veiled and while the veil
// marker exists, kernel events are drained and not reported.
func (m *Monitor) SetKernelVeiled(veiled bool) {
	if m == nil {
		return
	}
	m.veiled = veiled
}

func (m *Monitor) kernelVeiled() bool {
	return m.veiled && m.veilProbe != nil && m.veilProbe()
}

// Fd returns the epoll descriptor. It becomes readable when any enabled
// monitor has pending events; call NextChange to consume them.
func (m *Monitor) Fd() int {
	if m == nil {
		return -1
	}
	return m.epfd
}

// Wait blocks until one of the monitors reports a change or timeout
// elapses. A negative timeout waits forever. It returns true when a change
// is pending and false on timeout.
func (m *Monitor) Wait(timeout time.Duration) (bool, error) {
	if m == nil {
		return false, ErrNilMonitor
	}
	if m.closed {
		return false, ErrClosed
	}
	msec := epollTimeout(timeout)
	deadline := time.Now().Add(timeout)
	for {
		e, err := m.poll(msec)
		if err != nil {
			return false, err
		}
		if e == nil {
			return false, nil
		}
		changed, err := e.ops.processEvent(m, e)
		if err != nil {
			return false, err
		}
		if changed {
			e.changed = true
			return true, nil
		}
		if msec > 0 {
			left := time.Until(deadline)
			if left <= 0 {
				return false, nil
			}
			msec = int(left / time.Millisecond)
		}
	}
}

// epollTimeout converts d to an epoll_wait timeout in milliseconds. Partial
// milliseconds round up so a short positive wait still blocks.
func epollTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	msec := (d + time.Millisecond - 1) / time.Millisecond
	if msec > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(msec)
}

// poll waits for a single ready entry.
func (m *Monitor) poll(msec int) (*entry, error) {
	var events [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(m.epfd, events[:], msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("epoll wait: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		e := m.entryByFd(events[0].Fd)
		if e == nil {
			// stale registration of an entry closed underneath the set
			unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, int(events[0].Fd), nil)
			continue
		}
		return e, nil
	}
}

// NextChange returns the next change reported by the enabled monitors or
// nil if there is none. It does not block.
//
// After a fanotify change, the mount events carried by it are available
// through NextEvent until the next call to NextChange.
func (m *Monitor) NextChange() (*Change, error) {
	if m == nil {
		return nil, ErrNilMonitor
	}
	if m.closed {
		return nil, ErrClosed
	}
	m.last = nil
	var found *entry
	for _, e := range m.entries {
		if e.enabled && e.changed {
			found = e
			break
		}
	}
	for found == nil {
		e, err := m.poll(0)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, nil
		}
		changed, err := e.ops.processEvent(m, e)
		if err != nil {
			return nil, err
		}
		if changed {
			found = e
		}
	}
	found.changed = false
	m.last = found
	return &Change{Path: found.path, Type: found.kind}, nil
}

// Close disables all monitors, releases their resources and closes the
// epoll descriptor. Namespace descriptors supplied by the caller are left
// open.
func (m *Monitor) Close() error {
	if m == nil || m.closed {
		return nil
	}
	var err error
	for len(m.entries) > 0 {
		err = multierr.Append(err, m.freeEntry(m.entries[0]))
	}
	if m.epfd >= 0 {
		err = multierr.Append(err, unix.Close(m.epfd))
		m.epfd = -1
	}
	m.closed = true
	return err
}
