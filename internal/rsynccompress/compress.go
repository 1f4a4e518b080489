// Package rsynccompress implements the per-file compression streams
// negotiated between client and server (C3): zlib/zlibx (with a
// Z_SYNC_FLUSH after every block so the receiver can decompress
// incrementally), zstd, and lz4. It also carries the default
// SkipCompressList suffix table used to bypass compression for file types
// that are already compressed.
package rsynccompress

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a negotiated compression method.
type Algorithm int

const (
	None Algorithm = iota
	Zlib
	ZlibX
	Zstd
	LZ4
)

// NewWriter returns a WriteCloser that compresses into w using algo. For
// Zlib/ZlibX, Flush must be called after every literal block so the
// receiver's matching Reader can decode it without waiting for EOF; this
// mirrors rsync's do_compression()/Z_SYNC_FLUSH behavior.
func NewWriter(w io.Writer, algo Algorithm, level int) (FlushWriteCloser, error) {
	switch algo {
	case None:
		return nopFlushCloser{w}, nil
	case Zlib, ZlibX:
		fw, err := flate.NewWriter(w, level)
		if err != nil {
			return nil, err
		}
		return flateFlusher{fw}, nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, err
		}
		return zstdFlusher{zw}, nil
	case LZ4:
		lw := lz4.NewWriter(w)
		return lz4Flusher{lw}, nil
	default:
		return nil, fmt.Errorf("rsynccompress: unknown algorithm %d", algo)
	}
}

// NewReader returns a Reader decompressing r according to algo.
func NewReader(r io.Reader, algo Algorithm) (io.ReadCloser, error) {
	switch algo {
	case None:
		return io.NopCloser(r), nil
	case Zlib, ZlibX:
		return io.NopCloser(flate.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("rsynccompress: unknown algorithm %d", algo)
	}
}

// FlushWriteCloser is a compressor that can flush a pending block to the
// wire without closing the underlying stream, matching Z_SYNC_FLUSH
// semantics used between successive literal/match tokens.
type FlushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

type nopFlushCloser struct{ io.Writer }

func (nopFlushCloser) Close() error { return nil }
func (nopFlushCloser) Flush() error { return nil }

type flateFlusher struct{ *flate.Writer }

type zstdFlusher struct{ *zstd.Encoder }

func (z zstdFlusher) Flush() error { return z.Encoder.Flush() }

type lz4Flusher struct{ *lz4.Writer }

func (l lz4Flusher) Flush() error { return l.Writer.Flush() }

// DefaultSkipCompressList is the suffix set rsync skips compressing by
// default (--skip-compress), since the corresponding file types are already
// compressed and re-compressing them wastes CPU for no size benefit.
var DefaultSkipCompressList = []string{
	"gz", "tgz", "zip", "z", "rpm", "deb", "iso",
	"bz2", "tbz", "tbz2", "xz", "txz", "zst", "tzst",
	"7z", "mp3", "mp4", "avi", "mkv", "jpg", "jpeg",
	"png", "gif", "webp", "ogg", "flac",
}

// SkipCompress reports whether name's suffix matches one of list's entries,
// in which case the sender should transmit it uncompressed regardless of
// the negotiated algorithm.
func SkipCompress(name string, list []string) bool {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return false
	}
	suffix := strings.ToLower(name[dot+1:])
	for _, s := range list {
		if suffix == s {
			return true
		}
	}
	return false
}
