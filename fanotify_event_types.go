package mntmonitor

import "strings"

// Mount event bits and fanotify flags introduced with Linux 6.15. Older
// x/sys/unix releases do not carry them, so the kernel ABI values are
// spelled out here.
const (
	fanMntAttach        = 0x01000000
	fanMntDetach        = 0x02000000
	fanReportMnt        = 0x00004000
	fanMarkMntns        = 0x00000110
	fanEventInfoTypeMnt = 7
	fanQOverflow        = 0x00004000
)

// Action is a bit mask describing what happened to a mount.
type Action uint64

const (
	// MountAttached event when a mount was attached to the watched namespace
	MountAttached Action = fanMntAttach

	// MountDetached event when a mount was detached from the watched namespace
	MountDetached Action = fanMntDetach

	// MountMoved is reported by the kernel as a detach and an attach in the
	// same record
	MountMoved Action = fanMntAttach | fanMntDetach

	// QueueOverflow reports that the kernel event queue overflowed and
	// events were lost. It carries no mount ID; callers tracking mounts
	// should rescan the mount table.
	QueueOverflow Action = fanQOverflow
)

// Has returns true if action contains all the bits of a
func (action Action) Has(a Action) bool {
	return action&a == a
}

// Or appends the specified action to the set of actions
func (action Action) Or(a Action) Action {
	return action | a
}

func (action Action) String() string {
	var names []string
	if action.Has(MountAttached) {
		names = append(names, "attach")
	}
	if action.Has(MountDetached) {
		names = append(names, "detach")
	}
	if action.Has(QueueOverflow) {
		names = append(names, "overflow")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
