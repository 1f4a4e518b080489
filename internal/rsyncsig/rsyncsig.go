// Package rsyncsig implements block signature generation and the
// rolling-checksum match engine (C8): splitting a file into fixed-size
// blocks, computing a weak+strong sum per block, and scanning a new file
// version for blocks that can be copied from the old version instead of
// re-transmitted.
//
// Grounded on the teacher's rsync.SumHead/receiver.go recvToken() usage; the
// block-size heuristic is reimplemented properly here (see DESIGN.md) since
// the teacher's only version of it lived in the now-deleted
// internal/rsyncd prototype.
package rsyncsig

import (
	"io"

	"github.com/oferchen/rsync-sub004/internal/rsyncchecksum"
)

// BlockSize picks the per-file block length the way upstream rsync does:
// grow with the square root of the file size so both ends of the size
// spectrum get a reasonable number of blocks, clamped to
// [BlockSizeMin, BlockSizeMax] (the latter depending on protocol version).
func BlockSize(fileSize int64, protocolVersion int) int32 {
	const blockSizeMin = 700
	max := int64(1 << 17)
	if protocolVersion >= 30 {
		max = 1 << 29
	}
	if fileSize <= 0 {
		return blockSizeMin
	}
	size := isqrt(fileSize)
	if size < blockSizeMin {
		size = blockSizeMin
	}
	if size > max {
		size = max
	}
	// Round up to a multiple of 8 the way upstream rsync aligns block sizes.
	size = (size + 7) &^ 7
	return int32(size)
}

func isqrt(n int64) int64 {
	if n <= 1 {
		return n
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// BlockSum is the weak+strong checksum of a single block in a file's
// signature.
type BlockSum struct {
	Weak   uint32
	Strong []byte
}

// Signature is the full set of block sums for one file version, generated
// by the receiver side (the side that already has a copy) and sent to the
// sender side so it can identify which blocks it can skip retransmitting.
type Signature struct {
	BlockLength    int32
	ChecksumLength int32
	FileLength     int64
	Sums           []BlockSum
}

// Generate computes the signature of r (size bytes long), using blockLen
// sized blocks and strong sums of algo truncated to checksumLength bytes (0
// means the full digest length).
func Generate(r io.ReaderAt, size int64, blockLen int32, algo rsyncchecksum.StrongAlgorithm, checksumLength int, seed int32) (*Signature, error) {
	if blockLen <= 0 {
		blockLen = BlockSize(size, 32)
	}
	if checksumLength <= 0 {
		checksumLength = rsyncchecksum.Size(algo)
	}
	sig := &Signature{BlockLength: blockLen, ChecksumLength: int32(checksumLength), FileLength: size}

	buf := make([]byte, blockLen)
	var offset int64
	for offset < size {
		n := int64(blockLen)
		if offset+n > size {
			n = size - offset
		}
		chunk := buf[:n]
		if _, err := r.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		weak := rsyncchecksum.NewRolling(chunk).Sum32()
		h := rsyncchecksum.NewStrong(algo, seed)
		h.Write(chunk)
		strong := h.Sum(nil)[:checksumLength]
		sig.Sums = append(sig.Sums, BlockSum{Weak: weak, Strong: append([]byte(nil), strong...)})
		offset += n
	}
	return sig, nil
}

// Matcher does the two-level lookup upstream rsync uses while scanning a
// new file version for blocks matching sig: a 16-bit fold of the rolling
// checksum narrows candidates to a short bucket, and only those candidates'
// full 32-bit weak sums (and finally their strong sums) are compared,
// keeping the common case of "no match here" O(1).
type Matcher struct {
	sig     *Signature
	buckets map[uint16][]int
	algo    rsyncchecksum.StrongAlgorithm
	seed    int32
}

func NewMatcher(sig *Signature, algo rsyncchecksum.StrongAlgorithm, seed int32) *Matcher {
	m := &Matcher{sig: sig, buckets: make(map[uint16][]int), algo: algo, seed: seed}
	for i, bs := range sig.Sums {
		fold := fold16(bs.Weak)
		m.buckets[fold] = append(m.buckets[fold], i)
	}
	return m
}

func fold16(weak uint32) uint16 {
	return uint16(weak) ^ uint16(weak>>16)
}

// Find returns the index of the first signature block whose weak sum
// matches weak and whose strong sum (computed lazily by strongOf over the
// current candidate window's bytes) matches too, or -1 if there is no match.
func (m *Matcher) Find(weak uint32, strongOf func() []byte) int {
	for _, idx := range m.buckets[fold16(weak)] {
		if m.sig.Sums[idx].Weak != weak {
			continue
		}
		strong := strongOf()
		if bytesEqual(strong[:len(m.sig.Sums[idx].Strong)], m.sig.Sums[idx].Strong) {
			return idx
		}
	}
	return -1
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Token is a single unit of a delta stream: either a literal byte run (Data
// non-nil) or a reference to block index BlockIndex in the old file
// version.
type Token struct {
	Data       []byte
	BlockIndex int // -1 when Data is set
}

// WholeFileChecksum computes the final whole-file strong checksum sent
// after the last token, seeded the same way per-block strong sums are, so
// the generator side can detect transfer corruption end to end.
func WholeFileChecksum(tokens []Token, sig *Signature, oldFile io.ReaderAt, algo rsyncchecksum.StrongAlgorithm, seed int32) ([]byte, error) {
	h := rsyncchecksum.NewStrong(algo, seed)
	writeToken := func(t Token) error {
		if t.BlockIndex < 0 {
			h.Write(t.Data)
			return nil
		}
		bs := sig.Sums[t.BlockIndex]
		n := sig.BlockLength
		offset := int64(t.BlockIndex) * int64(sig.BlockLength)
		if offset+int64(n) > sig.FileLength {
			n = int32(sig.FileLength - offset)
		}
		buf := make([]byte, n)
		if _, err := oldFile.ReadAt(buf, offset); err != nil && err != io.EOF {
			return err
		}
		h.Write(buf)
		return nil
	}
	for _, t := range tokens {
		if err := writeToken(t); err != nil {
			return nil, err
		}
	}
	return h.Sum(nil), nil
}
