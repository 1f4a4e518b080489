package rsync

import "github.com/oferchen/rsync-sub004/internal/rsyncwire"

// SumHead precedes the block checksums sent for a single file, as described
// by internal/rsyncsig. BlockLength and ChecksumLength are per-file; a
// RemainderLength of 0 means the file divides evenly into BlockLength
// blocks.
type SumHead struct {
	ChecksumCount   int32
	BlockLength     int32
	ChecksumLength  int32
	RemainderLength int32
}

func (sh *SumHead) ReadFrom(c *rsyncwire.Conn) error {
	count, err := c.ReadInt32()
	if err != nil {
		return err
	}
	blen, err := c.ReadInt32()
	if err != nil {
		return err
	}
	clen, err := c.ReadInt32()
	if err != nil {
		return err
	}
	rlen, err := c.ReadInt32()
	if err != nil {
		return err
	}
	sh.ChecksumCount = count
	sh.BlockLength = blen
	sh.ChecksumLength = clen
	sh.RemainderLength = rlen
	return nil
}

func (sh *SumHead) WriteTo(c *rsyncwire.Conn) error {
	for _, v := range []int32{sh.ChecksumCount, sh.BlockLength, sh.ChecksumLength, sh.RemainderLength} {
		if err := c.WriteInt32(v); err != nil {
			return err
		}
	}
	return nil
}
