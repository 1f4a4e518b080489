// Package sparse implements hole-aware file writes (C9): zero runs at or
// above a configurable threshold are turned into actual filesystem holes
// instead of being written out as literal zero bytes, the way rsync's
// --sparse option works.
//
// The threshold and fallback order (punch-hole, then zero-range, then
// literal zero bytes) are grounded on the Rust reference implementation this
// module was distilled from (engine/local_copy/executor/file/sparse.rs),
// which this package otherwise has no source code in common with.
package sparse

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultThreshold is the minimum run of zero bytes treated as a hole,
// matching the reference implementation's SPARSE_WRITE_SIZE.
const DefaultThreshold = 32 * 1024

// zeroChunkSize is the buffer size used when falling back to literal zero
// writes, matching the reference implementation's ZERO_WRITE_BUFFER_SIZE.
const zeroChunkSize = 4096

// Writer accumulates zero runs across successive Write calls and converts
// runs at or above Threshold into holes via Punch, flushing any shorter run
// as literal zero bytes.
type Writer struct {
	W         *os.File
	Threshold int

	offset    int64
	zeroRun   int64
	everFlush bool
}

// NewWriter returns a Writer over f. A zero Threshold uses DefaultThreshold.
func NewWriter(f *os.File, threshold int) *Writer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Writer{W: f, Threshold: threshold}
}

// Write writes p at the writer's current logical offset, detecting and
// deferring runs of zero bytes so they can be turned into holes instead of
// occupying disk space.
func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		if allZero(chunkHead(p)) {
			n := countLeadingZero(p)
			w.zeroRun += int64(n)
			w.offset += int64(n)
			p = p[n:]
			continue
		}
		if err := w.flushZeroRun(); err != nil {
			return 0, err
		}
		n := countNonZero(p)
		if _, err := w.W.WriteAt(p[:n], w.offset); err != nil {
			return 0, err
		}
		w.offset += int64(n)
		p = p[n:]
	}
	return total, nil
}

// Close flushes any pending zero run and ensures the file's apparent size
// matches the logical offset written, even if the final bytes were a hole.
func (w *Writer) Close() error {
	if w.zeroRun > 0 {
		final := w.offset
		if err := w.flushZeroRun(); err != nil {
			return err
		}
		return w.W.Truncate(final)
	}
	return nil
}

func (w *Writer) flushZeroRun() error {
	if w.zeroRun == 0 {
		return nil
	}
	start := w.offset - w.zeroRun
	n := w.zeroRun
	w.zeroRun = 0
	if n >= int64(w.Threshold) {
		if err := Punch(w.W, start, n); err == nil {
			return nil
		}
		// fall through to literal zero writes on any punch failure
	}
	return writeZeros(w.W, start, n)
}

func writeZeros(f *os.File, offset, n int64) error {
	buf := make([]byte, zeroChunkSize)
	for n > 0 {
		chunk := int64(len(buf))
		if chunk > n {
			chunk = n
		}
		if _, err := f.WriteAt(buf[:chunk], offset); err != nil {
			return err
		}
		offset += chunk
		n -= chunk
	}
	return nil
}

// Punch tries, in order: FALLOC_FL_PUNCH_HOLE|FALLOC_FL_KEEP_SIZE (creates an
// actual hole without changing the file's apparent size), then
// FALLOC_FL_ZERO_RANGE (zeroes the range, possibly also creating a hole), and
// reports an error if neither is supported so the caller can fall back to
// literal zero writes.
func Punch(f *os.File, offset, length int64) error {
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
	if err == nil {
		return nil
	}
	err = unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_ZERO_RANGE, offset, length)
	if err == nil {
		return nil
	}
	return err
}

// Scan reports the hole/data extents of f using SEEK_HOLE/SEEK_DATA, for
// callers that want to skip reading runs of an already-sparse source file.
type Extent struct {
	Offset int64
	Length int64
	Hole   bool
}

func Scan(f *os.File) ([]Extent, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	var extents []Extent
	pos := int64(0)
	for pos < size {
		dataStart, err := f.Seek(pos, unixSeekData)
		if err != nil {
			// no more data; remainder is a hole
			extents = append(extents, Extent{Offset: pos, Length: size - pos, Hole: true})
			break
		}
		if dataStart > pos {
			extents = append(extents, Extent{Offset: pos, Length: dataStart - pos, Hole: true})
		}
		holeStart, err := f.Seek(dataStart, unixSeekHole)
		if err != nil {
			holeStart = size
		}
		extents = append(extents, Extent{Offset: dataStart, Length: holeStart - dataStart, Hole: false})
		pos = holeStart
	}
	return extents, nil
}

const (
	unixSeekData = 3 // SEEK_DATA
	unixSeekHole = 4 // SEEK_HOLE
)

func chunkHead(p []byte) []byte {
	const probe = 64
	if len(p) > probe {
		return p[:probe]
	}
	return p
}

func allZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

func countLeadingZero(p []byte) int {
	n := 0
	for n < len(p) && p[n] == 0 {
		n++
	}
	return n
}

func countNonZero(p []byte) int {
	n := 0
	for n < len(p) && p[n] != 0 {
		n++
	}
	if n == 0 && len(p) > 0 {
		return 1
	}
	return n
}
