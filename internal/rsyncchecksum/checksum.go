// Package rsyncchecksum implements the rolling checksum used to find
// candidate block matches (C2) and the pluggable strong-digest algorithms
// used to confirm them and to checksum whole files.
package rsyncchecksum

import (
	"crypto/md5"
	"encoding/binary"
	"hash"

	"github.com/cespare/xxhash/v2"
	"github.com/mmcloughlin/md4"
	"github.com/zeebo/xxh3"
)

// charOffset matches upstream rsync's CHAR_OFFSET, folded into the rolling
// checksum so that short runs of zero bytes still produce a varying sum.
const charOffset = 10

// RollingChecksum computes rsync's weak/rolling checksum over a byte window,
// allowing a byte to be rolled out of the front and a new one rolled in at
// the back in O(1), which is what makes block-by-block scanning of a large
// file cheap in internal/rsyncsig.
type RollingChecksum struct {
	a, b uint32
	n    uint32
}

// NewRolling computes the initial rolling checksum for data.
func NewRolling(data []byte) *RollingChecksum {
	r := &RollingChecksum{n: uint32(len(data))}
	// a = sum(data[i]+charOffset); b = sum((n-i) * (data[i]+charOffset))
	var a, b uint32
	for i, c := range data {
		v := uint32(c) + charOffset
		a += v
		b += uint32(len(data)-i) * v
	}
	r.a, r.b = a, b
	return r
}

// Roll removes `out` from the front of the window and appends `in` at the
// back, updating the checksum in constant time.
func (r *RollingChecksum) Roll(out, in byte) {
	outV := uint32(out) + charOffset
	inV := uint32(in) + charOffset
	r.a = r.a - outV + inV
	r.b = r.b - r.n*outV + r.a
}

// Sum32 returns the current 32-bit rolling checksum value, as sent on the
// wire ((b<<16)|a in upstream rsync's convention).
func (r *RollingChecksum) Sum32() uint32 {
	return (r.b << 16) | (r.a & 0xffff)
}

// StrongAlgorithm identifies one of the strong digest functions negotiated
// between client and server (protocol ≥30 allows negotiating MD5 instead of
// the legacy MD4; this implementation additionally offers the faster XXH64
// and XXH3 digests as a local-only optimization for localcopy).
type StrongAlgorithm int

const (
	MD4 StrongAlgorithm = iota
	MD5
	XXH64
	XXH3_64
	XXH3_128
)

// NewStrong returns a hash.Hash for algo, seeded with the session checksum
// seed the way upstream rsync mixes it into MD4/MD5: the seed's 4 bytes are
// written into the hash state before any file data.
func NewStrong(algo StrongAlgorithm, seed int32) hash.Hash {
	var h hash.Hash
	switch algo {
	case MD5:
		h = md5.New()
	case XXH64:
		h = xxhash.New()
	case XXH3_64:
		h = xxh3.New()
	case XXH3_128:
		h = xxh3.New128()
	default:
		h = md4.New()
	}
	var seedBytes [4]byte
	binary.LittleEndian.PutUint32(seedBytes[:], uint32(seed))
	h.Write(seedBytes[:])
	return h
}

// Size returns the digest length, in bytes, produced by algo.
func Size(algo StrongAlgorithm) int {
	switch algo {
	case MD5:
		return md5.Size
	case XXH64:
		return 8
	case XXH3_64:
		return 8
	case XXH3_128:
		return 16
	default:
		return md4.Size
	}
}
