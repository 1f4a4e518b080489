package rsyncwire

import (
	"io"
	"sync"
	"time"
)

// Limiter is a token-bucket bandwidth limiter, matching rsync's --bwlimit:
// the transfer is allowed to burst up to one second's worth of the
// configured rate, then throttles to exactly that rate.
//
// No bandwidth-limiting library appears anywhere in the retrieval pack, so
// this is implemented directly on stdlib time.Sleep/sync.Mutex rather than
// pulling in an out-of-pack rate-limiting dependency for a single call site.
type Limiter struct {
	mu         sync.Mutex
	bytesPerMs float64
	tokens     float64
	last       time.Time
}

// NewLimiter returns a Limiter allowing up to kbps kilobytes per second. A
// zero or negative kbps disables limiting (NewLimiter(0) returns nil).
func NewLimiter(kbps int) *Limiter {
	if kbps <= 0 {
		return nil
	}
	return &Limiter{
		bytesPerMs: float64(kbps) * 1024 / 1000,
		last:       time.Now(),
	}
}

func (l *Limiter) wait(n int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	elapsedMs := now.Sub(l.last).Seconds() * 1000
	l.last = now
	l.tokens += elapsedMs * l.bytesPerMs
	burst := l.bytesPerMs * 1000 // one second's worth
	if l.tokens > burst {
		l.tokens = burst
	}
	l.tokens -= float64(n)
	if l.tokens < 0 {
		sleepMs := -l.tokens / l.bytesPerMs
		time.Sleep(time.Duration(sleepMs * float64(time.Millisecond)))
		l.tokens = 0
	}
}

// LimitedWriter throttles writes to w according to l. A nil Limiter makes
// this a no-op passthrough.
type LimitedWriter struct {
	W io.Writer
	L *Limiter
}

func (lw *LimitedWriter) Write(p []byte) (int, error) {
	lw.L.wait(len(p))
	return lw.W.Write(p)
}
