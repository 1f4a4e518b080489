// Package negotiate implements the daemon-side sniffer that distinguishes
// an rsync daemon-protocol connection (`@RSYNCD:` greeting) from a raw
// binary rsync client-server connection arriving over a remote shell (C5).
//
// Sniffing never discards bytes: every byte pulled off the underlying
// reader while deciding is kept in Conn's buffer and replayed through Read
// before the stream falls through to the original source. Conn.IntoParts lets
// that sniffed state be carried across an operation (such as wrapping the
// connection in a multiplexer) that might fail, without losing the
// prefix already read.
package negotiate

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// daemonGreetingPrefix is the literal byte sequence (without the space
// that follows it in a real greeting line) that distinguishes a daemon
// connection from a binary one.
const daemonGreetingPrefix = "@RSYNCD:"

// Prologue reports which framing the sniffed connection uses.
type Prologue int

const (
	// NeedMoreData means the reader ran out of bytes before enough of the
	// prefix had been seen to decide either way.
	NeedMoreData Prologue = iota
	Binary
	LegacyAscii
)

func (p Prologue) String() string {
	switch p {
	case Binary:
		return "binary"
	case LegacyAscii:
		return "legacy-ascii"
	default:
		return "need-more-data"
	}
}

// undeterminedMsg is the fixed error text for an EnsureDecision call made
// against a NeedMoreData prologue, regardless of the caller-supplied
// message: there is no decision yet to be wrong about.
const undeterminedMsg = "negotiate: prologue undetermined, not enough bytes read yet"

// ErrUndetermined is returned by EnsureDecision when Sniff never reached a
// decision (the underlying reader hit EOF mid-prefix).
var ErrUndetermined = errors.New(undeterminedMsg)

// Sniff reads at most len(daemonGreetingPrefix) bytes from r, one at a
// time, deciding as early as possible:
//   - a first byte other than '@' decides Binary immediately;
//   - any byte that breaks the match against daemonGreetingPrefix decides
//     Binary;
//   - matching the whole prefix decides LegacyAscii;
//   - running out of bytes before either of the above decides
//     NeedMoreData.
//
// Every byte read is retained in the returned Conn and replayed by Read
// before further reads reach r.
func Sniff(r io.Reader) (*Conn, error) {
	buf := make([]byte, 0, len(daemonGreetingPrefix))
	one := make([]byte, 1)
	for i := 0; i < len(daemonGreetingPrefix); i++ {
		n, err := r.Read(one)
		if n == 0 {
			if err == io.EOF {
				return &Conn{kind: NeedMoreData, buffered: buf, r: r}, nil
			}
			if err != nil {
				return nil, err
			}
			continue
		}
		b := one[0]
		buf = append(buf, b)
		if b != daemonGreetingPrefix[i] {
			return &Conn{kind: Binary, buffered: buf, r: r}, nil
		}
	}
	return &Conn{kind: LegacyAscii, buffered: buf, r: r}, nil
}

// Conn is the sniffed connection: Decision reports what was detected, and
// reading from it replays the sniffed prefix before falling through to the
// wrapped reader.
type Conn struct {
	kind     Prologue
	buffered []byte
	consumed int
	r        io.Reader
}

// Decision reports the sniffed prologue.
func (c *Conn) Decision() Prologue { return c.kind }

func (c *Conn) IsBinary() bool { return c.kind == Binary }
func (c *Conn) IsLegacy() bool { return c.kind == LegacyAscii }

// EnsureDecision returns nil if c's decision matches want, an error
// wrapping ErrUndetermined if Sniff never reached a decision, or an error
// with msg otherwise.
func (c *Conn) EnsureDecision(want Prologue, msg string) error {
	switch c.kind {
	case NeedMoreData:
		return ErrUndetermined
	case want:
		return nil
	default:
		return errors.New(msg)
	}
}

// Buffered returns every byte Sniff pulled off the underlying reader,
// whether or not it has been replayed yet via Read.
func (c *Conn) Buffered() []byte { return c.buffered }

// BufferedLen returns len(Buffered()).
func (c *Conn) BufferedLen() int { return len(c.buffered) }

// BufferedConsumed returns how many buffered bytes Read has already
// replayed.
func (c *Conn) BufferedConsumed() int { return c.consumed }

// BufferedRemaining returns BufferedLen() - BufferedConsumed(): the
// invariant BufferedConsumed()+BufferedRemaining()==BufferedLen() always
// holds.
func (c *Conn) BufferedRemaining() int { return len(c.buffered) - c.consumed }

// SniffedPrefixRemaining is an alias for BufferedRemaining: Sniff never
// buffers bytes beyond the decision-making prefix, so the two coincide.
func (c *Conn) SniffedPrefixRemaining() int { return c.BufferedRemaining() }

// BufferedConsumedSlice returns the already-replayed prefix of Buffered().
func (c *Conn) BufferedConsumedSlice() []byte { return c.buffered[:c.consumed] }

// BufferedRemainder returns the not-yet-replayed suffix of Buffered().
func (c *Conn) BufferedRemainder() []byte { return c.buffered[c.consumed:] }

// Read implements io.Reader: it first drains whatever of the buffered
// prefix has not yet been replayed, then forwards to the wrapped reader.
func (c *Conn) Read(p []byte) (int, error) {
	if c.consumed < len(c.buffered) {
		n := copy(p, c.buffered[c.consumed:])
		c.consumed += n
		return n, nil
	}
	return c.r.Read(p)
}

// ErrBufferTooSmall is returned by CopyBufferedInto when dst cannot hold
// the unread buffered remainder.
type ErrBufferTooSmall struct {
	Required, Provided, Missing int
}

func (e *ErrBufferTooSmall) Error() string {
	return fmt.Sprintf("negotiate: destination buffer too small: need %d bytes, have %d (missing %d)", e.Required, e.Provided, e.Missing)
}

// CopyBufferedInto copies the unread buffered remainder into dst without
// consuming it, returning the number of bytes copied. dst must already be
// sized to hold the remainder, or ErrBufferTooSmall is returned instead of
// a partial copy.
func (c *Conn) CopyBufferedInto(dst []byte) (int, error) {
	rem := c.BufferedRemainder()
	if len(dst) < len(rem) {
		return 0, &ErrBufferTooSmall{Required: len(rem), Provided: len(dst), Missing: len(rem) - len(dst)}
	}
	return copy(dst, rem), nil
}

// CopyBufferedIntoVec returns a freshly allocated copy of the unread
// buffered remainder.
func (c *Conn) CopyBufferedIntoVec() []byte {
	rem := c.BufferedRemainder()
	out := make([]byte, len(rem))
	copy(out, rem)
	return out
}

// CopyBufferedIntoWriter writes the unread buffered remainder to w using a
// single vectored write when w supports it (net.Buffers coalesces into one
// writev call against a *net.TCPConn or similar), falling back to a plain
// Write otherwise.
func (c *Conn) CopyBufferedIntoWriter(w io.Writer) (int64, error) {
	rem := c.BufferedRemainder()
	if len(rem) == 0 {
		return 0, nil
	}
	bufs := net.Buffers{append([]byte(nil), rem...)}
	return bufs.WriteTo(w)
}

// Parts is the decomposed, reader-less form of a Conn: everything Sniff
// observed, without the live connection. It exists so the sniffed prefix
// survives an operation on the underlying reader that might fail (for
// example, wrapping it in a multiplexer) — see MapTransport.
type Parts struct {
	kind     Prologue
	buffered []byte
	consumed int
}

func (p Parts) Decision() Prologue        { return p.kind }
func (p Parts) IsBinary() bool            { return p.kind == Binary }
func (p Parts) IsLegacy() bool            { return p.kind == LegacyAscii }
func (p Parts) Buffered() []byte          { return p.buffered }
func (p Parts) BufferedLen() int          { return len(p.buffered) }
func (p Parts) BufferedConsumed() int     { return p.consumed }
func (p Parts) BufferedRemaining() int    { return len(p.buffered) - p.consumed }
func (p Parts) BufferedConsumedSlice() []byte { return p.buffered[:p.consumed] }
func (p Parts) BufferedRemainder() []byte { return p.buffered[p.consumed:] }

// IntoParts decomposes c into its reader-less Parts.
func (c *Conn) IntoParts() Parts {
	return Parts{
		kind:     c.kind,
		buffered: append([]byte(nil), c.buffered...),
		consumed: c.consumed,
	}
}

// WithReader reattaches r to p, producing a Conn that replays exactly the
// unconsumed buffered bytes p remembers before falling through to r. This
// is the inverse of IntoParts.
func (p Parts) WithReader(r io.Reader) *Conn {
	return &Conn{
		kind:     p.kind,
		buffered: append([]byte(nil), p.buffered...),
		consumed: p.consumed,
		r:        r,
	}
}

// MapTransport applies fn to c's inner reader to build some other
// transport value T (for example, a multiplexed reader or a TLS
// connection). If fn fails, the zero value of T is returned together with
// c's Parts and the error, so the caller can recover the sniffed prefix
// instead of it being lost down the failed mapping.
func MapTransport[T any](c *Conn, fn func(io.Reader) (T, error)) (T, Parts, error) {
	v, err := fn(c.r)
	if err != nil {
		var zero T
		return zero, c.IntoParts(), err
	}
	return v, Parts{}, nil
}
