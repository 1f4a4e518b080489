// Package rsync contains protocol-level constants and wire types shared by
// every other package in this module: the client, the daemon, the local
// copy executor and the generator/receiver halves of a transfer.
package rsync

// ProtocolVersion is the highest rsync wire protocol version this
// implementation speaks. Remote peers negotiate down to the lower of the two
// advertised versions; see internal/negotiate.
const ProtocolVersion = 32

// MinProtocolVersion is the oldest wire protocol version this implementation
// can still interoperate with.
const MinProtocolVersion = 27

// Compatibility flags exchanged once both sides are on protocol ≥30.
const (
	CF_INC_RECURSE = 1 << iota
	CF_SYMLINK_TIMES
	CF_SYMLINK_ICONV
	CF_SAFE_FLIST
	CF_AVOID_XATTR_OPTIM
	CF_CHKSUM_SEED_FIX
	CF_INPLACE_PARTIAL_DIR
	CF_VARINT_FLIST_FLAGS
)

// File list transmission flags, as sent per entry ahead of the name.
const (
	FLIST_TOP_DIR = 1 << iota
	FLIST_SAME_MODE
	FLIST_EXTENDED_FLAGS
	FLIST_SAME_UID
	FLIST_SAME_GID
	FLIST_SAME_NAME
	FLIST_LONG_NAME
	FLIST_SAME_TIME
	FLIST_SAME_RDEV_MAJOR
	FLIST_NO_CONTENT_DIR
	FLIST_HLINKED
	FLIST_SAME_DEV
	FLIST_RDEV_MINOR_8_PRE30
	FLIST_HLINK_FIRST
	FLIST_IO_ERROR_ENDLIST
	FLIST_MOD_NSEC
)

// Block size limits used when a file's signature is generated; see
// internal/rsyncsig.BlockSize.
const (
	BlockSizeMin      = 700
	BlockSizeMaxPre30 = 1 << 17
	BlockSizeMax      = 1 << 29
)

// ChecksumSeedLen is the length, in bytes, of the session-local checksum
// seed mixed into every rolling/strong checksum computed during a transfer.
const ChecksumSeedLen = 4
