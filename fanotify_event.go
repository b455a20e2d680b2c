//go:build linux
// +build linux

package mntmonitor

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sizeOfFanotifyEventMetadata = uint32(unsafe.Sizeof(unix.FanotifyEventMetadata{}))
	sizeOfFanotifyEventInfoMnt  = uint32(unsafe.Sizeof(fanotifyEventInfoMnt{}))
)

type fanotifyEventInfoHeader struct {
	InfoType uint8
	pad      uint8
	Len      uint16
}

// fanotifyEventInfoMnt is struct fanotify_event_info_mnt
type fanotifyEventInfoMnt struct {
	Header fanotifyEventInfoHeader
	_      uint32
	MntID  uint64
}

// Event describes a single mount attached to or detached from a watched
// namespace.
type Event struct {
	// MountID is the unique 64-bit mount ID (not the reusable ID shown in
	// mountinfo, see LookupMount)
	MountID uint64
	// Action holds the attach/detach bits of the event, or QueueOverflow
	Action Action
}

func fanotifyEventOK(meta *unix.FanotifyEventMetadata, n int) bool {
	return (n >= int(sizeOfFanotifyEventMetadata) &&
		meta.Event_len >= sizeOfFanotifyEventMetadata &&
		int(meta.Event_len) <= n)
}

// nextEvent decodes the record at the cursor and advances past it. Records
// without a mount info record are skipped. It returns false when the
// buffer is exhausted or holds a malformed record. A queue overflow is
// returned as an Event with the QueueOverflow action and no mount ID.
func (data *fanotifyData) nextEvent() (Event, bool) {
	for data.remaining > 0 {
		buf := data.buf[data.cur : data.cur+data.remaining]
		if len(buf) < int(sizeOfFanotifyEventMetadata) {
			break
		}
		meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&buf[0]))
		if !fanotifyEventOK(meta, len(buf)) ||
			meta.Vers != unix.FANOTIFY_METADATA_VERSION ||
			uint32(meta.Metadata_len) > meta.Event_len {
			break
		}
		record := buf[:meta.Event_len]
		data.cur += int(meta.Event_len)
		data.remaining -= int(meta.Event_len)

		if Action(meta.Mask).Has(QueueOverflow) {
			return Event{Action: QueueOverflow}, true
		}
		if id, ok := mountIDOf(record[meta.Metadata_len:]); ok {
			return Event{MountID: id, Action: Action(meta.Mask) & MountMoved}, true
		}
	}
	data.remaining = 0
	return Event{}, false
}

// mountIDOf walks the info records following the event metadata.
func mountIDOf(info []byte) (uint64, bool) {
	for len(info) >= int(sizeOfFanotifyEventInfoMnt) {
		infoType := info[0]
		infoLen := int(binary.NativeEndian.Uint16(info[2:4]))
		if infoLen < 4 || infoLen > len(info) {
			return 0, false
		}
		if infoType == fanEventInfoTypeMnt && infoLen >= int(sizeOfFanotifyEventInfoMnt) {
			return binary.NativeEndian.Uint64(info[8:16]), true
		}
		info = info[infoLen:]
	}
	return 0, false
}

// NextEvent returns the next mount event carried by the change most
// recently returned by NextChange. It returns false when all events were
// consumed or the change came from a monitor without event data.
func (m *Monitor) NextEvent() (Event, bool) {
	if m == nil || m.last == nil || m.last.kind != TypeFanotify {
		return Event{}, false
	}
	data := fanotifyDataOf(m.last)
	if data == nil {
		return Event{}, false
	}
	return data.nextEvent()
}
