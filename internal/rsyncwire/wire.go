// Package rsyncwire implements the rsync wire encoding: the fixed and
// variable-length integer formats exchanged during negotiation and transfer
// (C1), and the multiplexed framing used by server-to-client messages (C13).
package rsyncwire

import (
	"encoding/binary"
	"io"
)

// Conn wraps a transport with the int32/int64/varint primitives every
// protocol message is built from. Reader and Writer are exported so callers
// can swap in a buffered reader or a MultiplexWriter once the handshake is
// done.
type Conn struct {
	Reader io.Reader
	Writer io.Writer
}

func (c *Conn) ReadInt32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(c.Reader, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func (c *Conn) WriteInt32(v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	_, err := c.Writer.Write(b[:])
	return err
}

// ReadInt64 implements rsync's varlong convention: non-negative values
// below 2^31-1 are sent as a 4-byte int32; all others are sent as -1
// followed by an 8-byte little-endian int64 (or, pre protocol-30, a
// 12-byte/3-word encoding — not handled here, see ReadVarlong).
func (c *Conn) ReadInt64() (int64, error) {
	v, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v != -1 {
		return int64(v), nil
	}
	var b [8]byte
	if _, err := io.ReadFull(c.Reader, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

func (c *Conn) WriteInt64(v int64) error {
	if v >= 0 && v < (1<<31)-1 {
		return c.WriteInt32(int32(v))
	}
	if err := c.WriteInt32(-1); err != nil {
		return err
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	_, err := c.Writer.Write(b[:])
	return err
}

// WriteByte writes a single byte, the unit rsync uses for small enumerated
// fields (flags, status bytes).
func (c *Conn) WriteByte(b byte) error {
	_, err := c.Writer.Write([]byte{b})
	return err
}

func (c *Conn) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.Reader, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteVarint writes v using rsync's variable-length encoding: a leading
// byte count derived from the magnitude of v, followed by that many
// little-endian bytes, matching write_varint() in the upstream protocol.
func (c *Conn) WriteVarint(v int32) error {
	return writeVarintN(c.Writer, uint64(uint32(v)), 4)
}

// WriteVarlong writes a varint-encoded value wider than 32 bits, as used for
// file sizes and mtimes on protocol ≥30. minBytes is the minimum byte count
// rsync always emits for the given field (3 for sizes, 4 for most others).
func (c *Conn) WriteVarlong(v int64, minBytes int) error {
	return writeVarintN(c.Writer, uint64(v), minBytes)
}

// writeVarintN implements rsync's variable-length integer format: minBytes
// plain little-endian bytes hold the low-order bits, and any bits above that
// are folded into the high bits of the leading byte, one extra byte added
// per 8 additional bits needed, up to a 64-bit value in 9 bytes total.
func writeVarintN(w io.Writer, v uint64, minBytes int) error {
	var buf [9]byte
	cnt := minBytes
	for cnt < 8 && v>>uint(8*(cnt-1)+(8-minBytes)) != 0 {
		cnt++
	}
	extra := cnt - minBytes
	for i := 1; i < cnt; i++ {
		buf[i] = byte(v >> uint(8*(i-1)))
	}
	lowByte := byte(v >> uint(8*(cnt-1)))
	if extra > 0 {
		// The leading byte's top `extra` bits are set to mark how many extra
		// bytes follow; its remaining low bits hold the most-significant
		// bits of v that didn't fit in the trailing bytes.
		buf[0] = ^byte(0xFF>>uint(extra)) | lowByte
	} else {
		buf[0] = lowByte
	}
	_, err := w.Write(buf[:cnt])
	return err
}

// ReadVarint reads a value written by WriteVarint.
func (c *Conn) ReadVarint() (int32, error) {
	v, err := readVarintN(c.Reader, 4)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func (c *Conn) ReadVarlong(minBytes int) (int64, error) {
	v, err := readVarintN(c.Reader, minBytes)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func readVarintN(r io.Reader, minBytes int) (uint64, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, err
	}
	b := first[0]
	// Count how many of the leading byte's top bits are set; that is the
	// number of extra trailing bytes beyond minBytes-1.
	extra := 0
	for extra < 8 && b&(0x80>>uint(extra)) != 0 {
		extra++
	}
	trailing := minBytes - 1 + extra
	buf := make([]byte, trailing)
	if trailing > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
	}
	var v uint64
	for i, bb := range buf {
		v |= uint64(bb) << uint(8*i)
	}
	lowMask := byte(0xFF >> uint(extra))
	v |= uint64(b&lowMask) << uint(8*trailing)
	return v, nil
}

// CountingReader wraps an io.Reader, tracking total bytes read so transfer
// statistics can be reported at the end of a session.
type CountingReader struct {
	R       io.Reader
	Counted int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.Counted += int64(n)
	return n, err
}

// CountingWriter wraps an io.Writer, tracking total bytes written.
type CountingWriter struct {
	W       io.Writer
	Counted int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.Counted += int64(n)
	return n, err
}

// CounterPair wraps r and w with CountingReader/CountingWriter.
func CounterPair(r io.Reader, w io.Writer) (*CountingReader, *CountingWriter) {
	return &CountingReader{R: r}, &CountingWriter{W: w}
}
