//go:build linux
// +build linux

package mntmonitor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"unsafe"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

const (
	// statmount(2) is Linux 6.8+, same number on every architecture
	sysStatmount      = 457
	statmountMntBasic = 0x00000002
	mntIDReqSizeVer0  = 24
	statmountBufSize  = 4096

	// offsets within struct statmount
	statmountMaskOff     = 8
	statmountMntIDOff    = 40
	statmountMntIDOldOff = 56
)

type mntIDReq struct {
	Size  uint32
	Spare uint32
	MntID uint64
	Param uint64
}

// mountIDs is the subset of struct statmount needed to find a mount in
// mountinfo.
type mountIDs struct {
	id    uint64
	oldID uint32
}

func parseStatmount(buf []byte) (mountIDs, error) {
	if len(buf) < statmountMntIDOldOff+4 {
		return mountIDs{}, fmt.Errorf("statmount: short buffer (%d bytes)", len(buf))
	}
	mask := binary.NativeEndian.Uint64(buf[statmountMaskOff:])
	if mask&statmountMntBasic == 0 {
		return mountIDs{}, errors.New("statmount: basic mount attributes not returned")
	}
	return mountIDs{
		id:    binary.NativeEndian.Uint64(buf[statmountMntIDOff:]),
		oldID: binary.NativeEndian.Uint32(buf[statmountMntIDOldOff:]),
	}, nil
}

func statmount(id uint64) (mountIDs, error) {
	req := mntIDReq{Size: mntIDReqSizeVer0, MntID: id, Param: statmountMntBasic}
	buf := make([]byte, statmountBufSize)
	_, _, errno := unix.Syscall6(sysStatmount,
		uintptr(unsafe.Pointer(&req)),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0, 0, 0)
	if errno == unix.ENOSYS {
		return mountIDs{}, fmt.Errorf("%w: statmount", ErrUnsupportedOnKernelVersion)
	}
	if errno != 0 {
		return mountIDs{}, fmt.Errorf("statmount %d: %w", id, errno)
	}
	return parseStatmount(buf)
}

func findMount(r io.Reader, oldID int) (*mountinfo.Info, error) {
	mounts, err := mountinfo.GetMountsFromReader(r, func(info *mountinfo.Info) (skip, stop bool) {
		if info.ID == oldID {
			return false, true
		}
		return true, false
	})
	if err != nil {
		return nil, err
	}
	if len(mounts) == 0 {
		return nil, fmt.Errorf("mount %d not in mountinfo: %w", oldID, unix.ENOENT)
	}
	return mounts[0], nil
}

// LookupMount resolves the unique mount ID of an Event to the matching
// entry of /proc/self/mountinfo. Mounts that were detached, or belong to
// another namespace, yield an error wrapping unix.ENOENT.
//
// Requires Linux 6.8 or later (statmount).
func LookupMount(id uint64) (*mountinfo.Info, error) {
	ids, err := statmount(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(procSelfMountinfo)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return findMount(f, int(ids.oldID))
}
