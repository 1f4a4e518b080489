//go:build linux

package flist

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// statEntry fills in the fields Walk can only get from the real inode
// (owner, group, device/rdev, hardlink identity, access time and, where the
// filesystem reports one, creation time), the way generatoruid.go pulls
// syscall.Stat_t on the receiver side for the equivalent write path.
func statEntry(e *Entry, path string, info os.FileInfo) {
	stt, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	e.Uid = int32(stt.Uid)
	e.Gid = int32(stt.Gid)
	e.Rdev = int32(stt.Rdev)
	e.AccessTime = time.Unix(stt.Atim.Sec, stt.Atim.Nsec)
	if !info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
		e.HlinkDev = int64(stt.Dev) + 1
		e.HlinkIno = int64(stt.Ino)
	}

	var stx unix.Statx_t
	const mask = unix.STATX_BTIME
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, mask, &stx); err == nil && stx.Mask&unix.STATX_BTIME != 0 {
		e.CrTime = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}
}
