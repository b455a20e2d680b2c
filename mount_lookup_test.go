//go:build linux
// +build linux

package mntmonitor

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testMountinfo = `22 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw
23 22 0:21 / /proc rw,nosuid,nodev,noexec,relatime shared:12 - proc proc rw
61 22 0:52 / /tmp/mnt rw,relatime shared:30 - tmpfs tmpfs rw,size=1024k
`

func TestFindMount(t *testing.T) {
	info, err := findMount(strings.NewReader(testMountinfo), 61)
	require.NoError(t, err)
	assert.Equal(t, 61, info.ID)
	assert.Equal(t, 22, info.Parent)
	assert.Equal(t, "/tmp/mnt", info.Mountpoint)
	assert.Equal(t, "tmpfs", info.FSType)

	_, err = findMount(strings.NewReader(testMountinfo), 99)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestParseStatmount(t *testing.T) {
	buf := make([]byte, 512)
	binary.NativeEndian.PutUint64(buf[statmountMaskOff:], statmountMntBasic)
	binary.NativeEndian.PutUint64(buf[statmountMntIDOff:], 0x100000000000123)
	binary.NativeEndian.PutUint32(buf[statmountMntIDOldOff:], 61)

	ids, err := parseStatmount(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100000000000123), ids.id)
	assert.Equal(t, uint32(61), ids.oldID)

	binary.NativeEndian.PutUint64(buf[statmountMaskOff:], 0)
	_, err = parseStatmount(buf)
	assert.Error(t, err)

	_, err = parseStatmount(buf[:16])
	assert.Error(t, err)
}
