//go:build linux
// +build linux

package mntmonitor

import (
	"errors"
	"os"
	"regexp"
	"strconv"

	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"
)

// first kernel release with FAN_REPORT_MNT and FAN_MARK_MNTNS
const (
	fanotifyMntMajor = 6
	fanotifyMntMinor = 15
)

var versionRe = regexp.MustCompile(`([0-9]+)`)

// returns major, minor, patch version of the kernel
// upon error the values are zero and the error
// indicates the reason for failure
func kernelVersion() (maj, min, patch int, err error) {
	var sysinfo unix.Utsname
	err = unix.Uname(&sysinfo)
	if err != nil {
		return
	}
	return parseKernelRelease(unix.ByteSliceToString(sysinfo.Release[:]))
}

func parseKernelRelease(release string) (maj, min, patch int, err error) {
	version := versionRe.FindAllString(release, 3)
	if len(version) < 2 {
		return 0, 0, 0, errors.New("unrecognized kernel release " + strconv.Quote(release))
	}
	if maj, err = strconv.Atoi(version[0]); err != nil {
		return
	}
	if min, err = strconv.Atoi(version[1]); err != nil {
		return
	}
	if len(version) > 2 {
		if patch, err = strconv.Atoi(version[2]); err != nil {
			return
		}
	}
	return maj, min, patch, nil
}

func versionAtLeast(maj, min, wantMaj, wantMin int) bool {
	if maj != wantMaj {
		return maj > wantMaj
	}
	return min >= wantMin
}

// KernelSupported reports whether the running kernel is recent enough to
// deliver fanotify mount events. A true result does not guarantee that
// EnableFanotify succeeds; it still needs CAP_SYS_ADMIN.
func KernelSupported() bool {
	maj, min, _, err := kernelVersion()
	if err != nil {
		return false
	}
	return versionAtLeast(maj, min, fanotifyMntMajor, fanotifyMntMinor)
}

// HasCapSysAdmin returns true if the process has CAP_SYS_ADMIN in its
// effective set.
func HasCapSysAdmin() (bool, error) {
	capabilities, err := capability.NewPid2(os.Getpid())
	if err != nil {
		return false, err
	}
	if err := capabilities.Load(); err != nil {
		return false, err
	}
	return capabilities.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN), nil
}

// CheckFanotifySupport returns nil when EnableFanotify can be expected to
// work: ErrUnsupportedOnKernelVersion or ErrCapSysAdmin otherwise.
func CheckFanotifySupport() error {
	if !KernelSupported() {
		return ErrUnsupportedOnKernelVersion
	}
	ok, err := HasCapSysAdmin()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCapSysAdmin
	}
	return nil
}
