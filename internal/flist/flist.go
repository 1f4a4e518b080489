// Package flist implements the file-list exchange (C7): encoding and
// decoding the list of files, directories and symlinks a transfer covers,
// including the same_* delta-encoding against the previous entry and the
// hardlink leader/follower grouping used by protocol versions 28 and newer.
//
// Field order and the requirement that same_* bits resolve against live
// compression state (not a per-entry default) are grounded on
// original_source's protocol/flist/read.rs; the wire helpers themselves are
// grounded on the teacher's rsyncwire.Conn and rsync.SumHead usage.
package flist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oferchen/rsync-sub004/internal/rsyncwire"
)

// Entry is a single file-list record. Field order mirrors the wire order:
// flags, name, hardlink index, size, mtime (+ nsec), crtime, mode, atime,
// uid, gid, rdev, symlink target, hardlink dev/ino, checksum.
type Entry struct {
	Flags       int32
	Name        string
	HlinkIdx    int32 // -1 unless this entry is a hardlink follower, in which case the index of its leader in the same list
	Size        int64
	ModTime     time.Time
	ModNsec     int32
	CrTime      time.Time
	Mode        int32
	AccessTime  time.Time
	Uid         int32
	Gid         int32
	Rdev        int32
	LinkTarget  string
	HlinkDev    int64 // dev+1, 0 if unset
	HlinkIno    int64
	Checksum    []byte
	IsDir       bool
	IsSymlink   bool
}

// CompressionState is shared between the writer and reader side of a
// file-list exchange so that same_* delta fields are resolved against the
// actual previous entry on the wire, not a fresh zero value per call; using
// a fresh default per entry is the central corruption risk the reference
// implementation's flist/read.rs calls out.
type CompressionState struct {
	lastName string
	lastMode int32
	lastUid  int32
	lastGid  int32
	lastTime time.Time
	lastRdev int32
}

// WriteList encodes entries onto c, maintaining cs across the whole call so
// repeated calls for the same logical file-list (e.g. across several
// directories) keep delta-encoding correctly.
//
// Entries sharing a (HlinkDev, HlinkIno) pair are assigned leader/follower
// roles first (see AssignHardlinkIndexes); followers encode only their name
// and a back-reference to their leader's index, never their own metadata.
func WriteList(c *rsyncwire.Conn, cs *CompressionState, entries []Entry) error {
	AssignHardlinkIndexes(entries)
	for i := range entries {
		if err := writeEntry(c, cs, &entries[i]); err != nil {
			return fmt.Errorf("flist: writing %q: %w", entries[i].Name, err)
		}
	}
	return c.WriteVarint(0) // end-of-list marker
}

// AssignHardlinkIndexes scans entries in order and sets HlinkIdx on every
// hardlink follower (every occurrence of a (dev, ino) pair after the
// first) to the index of its group's leader. Leaders and entries with no
// hardlink partner in this list are left at HlinkIdx -1.
func AssignHardlinkIndexes(entries []Entry) {
	seen := make(map[int64]int)
	for i := range entries {
		e := &entries[i]
		if e.IsDir || e.HlinkDev == 0 {
			continue
		}
		key := e.HlinkDev<<32 ^ e.HlinkIno
		if leader, ok := seen[key]; ok {
			e.HlinkIdx = int32(leader)
		} else {
			seen[key] = i
		}
	}
}

func writeEntry(c *rsyncwire.Conn, cs *CompressionState, e *Entry) error {
	follower := e.HlinkIdx >= 0

	flags := e.Flags
	if !follower {
		if e.Mode == cs.lastMode {
			flags |= sameMode
		}
		if e.Uid == cs.lastUid {
			flags |= sameUid
		}
		if e.Gid == cs.lastGid {
			flags |= sameGid
		}
		if e.ModTime.Equal(cs.lastTime) {
			flags |= sameTime
		}
	} else {
		flags |= flagHlinkFollower
	}
	prefixLen := commonPrefixLen(cs.lastName, e.Name)
	if prefixLen > 0 {
		flags |= sameName
	}
	if flags == 0 {
		// A zero flags word is the end-of-list marker, so an entry sharing
		// nothing with its predecessor sets the otherwise unused longName bit.
		flags = longName
	}

	if err := c.WriteVarint(flags); err != nil {
		return err
	}
	if flags&sameName != 0 {
		if err := c.WriteByte(byte(prefixLen)); err != nil {
			return err
		}
	}
	suffix := e.Name[prefixLen:]
	if err := c.WriteVarint(int32(len(suffix))); err != nil {
		return err
	}
	if _, err := c.Writer.Write([]byte(suffix)); err != nil {
		return err
	}
	cs.lastName = e.Name

	if follower {
		// Hardlink index immediately follows the name; every other field is
		// omitted, since the receiver reconstructs the follower by linking
		// to its leader's path instead of writing separate content.
		return c.WriteVarint(e.HlinkIdx)
	}

	if err := c.WriteVarlong(e.Size, 3); err != nil {
		return err
	}
	if flags&sameTime == 0 {
		if err := c.WriteVarlong(e.ModTime.Unix(), 4); err != nil {
			return err
		}
	}
	if flags&sameMode == 0 {
		if err := c.WriteInt32(e.Mode); err != nil {
			return err
		}
	}
	if flags&sameUid == 0 {
		if err := c.WriteVarint(e.Uid); err != nil {
			return err
		}
	}
	if flags&sameGid == 0 {
		if err := c.WriteVarint(e.Gid); err != nil {
			return err
		}
	}
	if e.IsSymlink {
		if err := c.WriteVarint(int32(len(e.LinkTarget))); err != nil {
			return err
		}
		if _, err := c.Writer.Write([]byte(e.LinkTarget)); err != nil {
			return err
		}
	}

	cs.lastMode = e.Mode
	cs.lastUid = e.Uid
	cs.lastGid = e.Gid
	cs.lastTime = e.ModTime
	cs.lastRdev = e.Rdev
	return nil
}

// ReadList decodes entries from c until the end-of-list marker.
func ReadList(c *rsyncwire.Conn, cs *CompressionState) ([]Entry, error) {
	var entries []Entry
	for {
		flags, err := c.ReadVarint()
		if err != nil {
			return nil, err
		}
		if flags == 0 {
			break
		}
		e := Entry{Flags: flags, HlinkIdx: -1}
		if flags&sameName != 0 {
			plen, err := c.ReadByte()
			if err != nil {
				return nil, err
			}
			sufLen, err := c.ReadVarint()
			if err != nil {
				return nil, err
			}
			suffix := make([]byte, sufLen)
			if _, err := readFull(c, suffix); err != nil {
				return nil, err
			}
			e.Name = cs.lastName[:plen] + string(suffix)
		} else {
			sufLen, err := c.ReadVarint()
			if err != nil {
				return nil, err
			}
			suffix := make([]byte, sufLen)
			if _, err := readFull(c, suffix); err != nil {
				return nil, err
			}
			e.Name = string(suffix)
		}
		cs.lastName = e.Name

		if flags&flagHlinkFollower != 0 {
			leaderIdx, err := c.ReadVarint()
			if err != nil {
				return nil, err
			}
			if int(leaderIdx) < 0 || int(leaderIdx) >= len(entries) {
				return nil, fmt.Errorf("flist: hardlink follower %q refers to out-of-range index %d", e.Name, leaderIdx)
			}
			leader := entries[leaderIdx]
			e.HlinkIdx = leaderIdx
			e.Size = leader.Size
			e.ModTime = leader.ModTime
			e.Mode = leader.Mode
			e.Uid = leader.Uid
			e.Gid = leader.Gid
			e.LinkTarget = leader.LinkTarget
			e.IsDir = leader.IsDir
			e.IsSymlink = leader.IsSymlink
			e.HlinkDev = leader.HlinkDev
			e.HlinkIno = leader.HlinkIno
			entries = append(entries, e)
			continue
		}

		size, err := c.ReadVarlong(3)
		if err != nil {
			return nil, err
		}
		e.Size = size
		if flags&sameTime != 0 {
			e.ModTime = cs.lastTime
		} else {
			sec, err := c.ReadVarlong(4)
			if err != nil {
				return nil, err
			}
			e.ModTime = time.Unix(sec, 0)
		}
		if flags&sameMode != 0 {
			e.Mode = cs.lastMode
		} else {
			mode, err := c.ReadInt32()
			if err != nil {
				return nil, err
			}
			e.Mode = mode
		}
		if flags&sameUid != 0 {
			e.Uid = cs.lastUid
		} else {
			uid, err := c.ReadVarint()
			if err != nil {
				return nil, err
			}
			e.Uid = uid
		}
		if flags&sameGid != 0 {
			e.Gid = cs.lastGid
		} else {
			gid, err := c.ReadVarint()
			if err != nil {
				return nil, err
			}
			e.Gid = gid
		}
		e.IsDir = os.FileMode(e.Mode).IsDir()
		e.IsSymlink = os.FileMode(e.Mode)&os.ModeSymlink != 0
		if e.IsSymlink {
			n, err := c.ReadVarint()
			if err != nil {
				return nil, err
			}
			target := make([]byte, n)
			if _, err := readFull(c, target); err != nil {
				return nil, err
			}
			e.LinkTarget = string(target)
		}

		cs.lastMode = e.Mode
		cs.lastUid = e.Uid
		cs.lastGid = e.Gid
		cs.lastTime = e.ModTime
		entries = append(entries, e)
	}
	return entries, nil
}

func readFull(c *rsyncwire.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Reader.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n > 255 {
		n = 255
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// same_* flag bits, matching upstream rsync's flist.c bit assignments for
// the fields this implementation delta-encodes. flagHlinkFollower is this
// package's own bit (upstream's XMIT_HLINKED) marking an entry whose
// metadata fields were omitted because it is a hardlink follower.
const (
	sameMode          = 1 << 1
	flagHlinkFollower = 1 << 2
	sameUid           = 1 << 3
	sameGid           = 1 << 4
	sameName          = 1 << 5
	longName          = 1 << 6 // no field is read for it; keeps flags non-zero
	sameTime          = 1 << 7
)

// HardlinkGroups partitions entries sharing the same (dev, ino) pair into
// leader/follower groups, the way protocol ≥30 assigns each group a single
// group index instead of repeating the (dev, ino) pair per entry.
func HardlinkGroups(entries []Entry) map[int64][]int {
	groups := make(map[int64][]int)
	for i, e := range entries {
		if e.HlinkDev == 0 {
			continue
		}
		key := e.HlinkDev<<32 ^ e.HlinkIno
		groups[key] = append(groups[key], i)
	}
	for k, idxs := range groups {
		if len(idxs) < 2 {
			delete(groups, k)
		}
	}
	return groups
}

// Walk builds a sorted Entry list for root, suitable for Transfer to
// compare against the remote side's file list during a local-copy or
// sender-side walk.
func Walk(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			root := Entry{Name: ".", IsDir: true, Mode: int32(info.Mode()), HlinkIdx: -1}
			statEntry(&root, path, info)
			entries = append(entries, root)
			return nil
		}
		e := Entry{
			Name:     filepath.ToSlash(rel),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Mode:     int32(info.Mode()),
			IsDir:    info.IsDir(),
			HlinkIdx: -1,
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			e.IsSymlink = true
			e.LinkTarget = target
		}
		// Checksum (the whole-file strong checksum) is computed later, during
		// signature exchange (see rsyncsig.WholeFileChecksum); recomputing it
		// here would mean hashing every file twice.
		statEntry(&e, path, info)
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.Compare(entries[i].Name, entries[j].Name) < 0
	})
	return entries, nil
}
