package receiver

import (
	"os"
	"path/filepath"

	"github.com/oferchen/rsync-sub004"
	"github.com/oferchen/rsync-sub004/internal/flist"
	"github.com/oferchen/rsync-sub004/internal/rsyncchecksum"
	"github.com/oferchen/rsync-sub004/internal/rsyncsig"
)

// GenerateFiles is the generator half of a receive. Directories and
// symlinks are created directly against the local filesystem since they
// never need a basis-file comparison; hardlink followers are skipped here
// and linked after the transfer by reconstructHardlinks; every regular
// file gets a block signature of its current local contents (if any) sent
// to the sender side, which replies on the same connection with a stream
// of literal/match tokens consumed by RecvFiles.
//
// rsync/generator.c:generate_files
func (rt *Transfer) GenerateFiles(fileList []*File) error {
	followers := make(map[int]bool)
	if rt.Opts.PreserveHardLinks {
		for _, members := range flist.HardlinkGroups(toEntries(fileList)) {
			for _, idx := range members[1:] {
				followers[idx] = true
			}
		}
	}

	for idx, f := range fileList {
		switch {
		case f.IsDir:
			if err := rt.mkdirEntry(f); err != nil {
				return err
			}
			continue
		case f.IsSymlink:
			if err := rt.symlinkEntry(f); err != nil {
				return err
			}
			continue
		case followers[idx]:
			// Relinked in reconstructHardlinks once every leader's data has
			// landed; skip the signature/token exchange entirely.
			continue
		}
		if err := rt.generateOne(int32(idx), f); err != nil {
			return err
		}
	}
	return rt.Conn.WriteInt32(-1)
}

// reconstructHardlinks links every non-leader member of a hardlink group to
// its leader's now-fully-written path. Called after RecvFiles has finished,
// so the leader's data is guaranteed to be on disk.
func (rt *Transfer) reconstructHardlinks(fileList []*File) error {
	if !rt.Opts.PreserveHardLinks {
		return nil
	}
	for _, members := range flist.HardlinkGroups(toEntries(fileList)) {
		leader := fileList[members[0]]
		for _, idx := range members[1:] {
			if err := rt.linkEntry(leader, fileList[idx]); err != nil {
				return err
			}
		}
	}
	return nil
}

func toEntries(fileList []*File) []flist.Entry {
	entries := make([]flist.Entry, len(fileList))
	for i, f := range fileList {
		entries[i] = *f
	}
	return entries
}

func (rt *Transfer) mkdirEntry(f *File) error {
	local := filepath.Join(rt.Dest, f.Name)
	if err := os.MkdirAll(local, 0755); err != nil {
		return err
	}
	return rt.setPerms(f)
}

func (rt *Transfer) symlinkEntry(f *File) error {
	if !rt.Opts.PreserveLinks {
		return nil
	}
	local := filepath.Join(rt.Dest, f.Name)
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return err
	}
	os.Remove(local)
	return symlink(f.LinkTarget, local)
}

// linkEntry recreates a hardlink follower by linking it to the leader's
// already-materialized path, the way rsync's hard-link group handling
// avoids re-transferring identical file data.
func (rt *Transfer) linkEntry(leader, follower *File) error {
	leaderPath := filepath.Join(rt.Dest, leader.Name)
	followerPath := filepath.Join(rt.Dest, follower.Name)
	if err := os.MkdirAll(filepath.Dir(followerPath), 0755); err != nil {
		return err
	}
	os.Remove(followerPath)
	return os.Link(leaderPath, followerPath)
}

func (rt *Transfer) generateOne(idx int32, f *File) error {
	const algo = rsyncchecksum.MD5

	var sig *rsyncsig.Signature
	basis, err := rt.DestRoot.Open(f.Name)
	if err == nil {
		defer basis.Close()
		st, err := basis.Stat()
		if err != nil {
			return err
		}
		if st.Mode().IsRegular() {
			blockLen := rsyncsig.BlockSize(st.Size(), rsync.ProtocolVersion)
			sig, err = rsyncsig.Generate(basis, st.Size(), blockLen, algo, 0, rt.Seed)
			if err != nil {
				return err
			}
		}
	}
	if sig == nil {
		// No usable basis file: an empty signature tells the sender side to
		// transmit the whole file as literal data.
		sig = &rsyncsig.Signature{
			BlockLength:    rsyncsig.BlockSize(f.Size, rsync.ProtocolVersion),
			ChecksumLength: int32(rsyncchecksum.Size(algo)),
		}
	}

	if err := rt.Conn.WriteInt32(idx); err != nil {
		return err
	}
	sh := rsync.SumHead{
		ChecksumCount:   int32(len(sig.Sums)),
		BlockLength:     sig.BlockLength,
		ChecksumLength:  sig.ChecksumLength,
		RemainderLength: remainder(f.Size, sig.BlockLength),
	}
	if err := sh.WriteTo(rt.Conn); err != nil {
		return err
	}
	for _, bs := range sig.Sums {
		if err := rt.Conn.WriteInt32(int32(bs.Weak)); err != nil {
			return err
		}
		if _, err := rt.Conn.Writer.Write(bs.Strong); err != nil {
			return err
		}
	}
	return nil
}

func remainder(size int64, blockLen int32) int32 {
	if blockLen == 0 {
		return 0
	}
	return int32(size % int64(blockLen))
}
