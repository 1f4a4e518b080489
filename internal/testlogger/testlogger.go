// Package testlogger adapts a *testing.T into an io.Writer, so code that
// wants an os.Stderr-shaped sink (e.g. rsyncd.WithStderr) can have its
// output folded into `go test -v` output and associated with the right
// subtest instead of racing with other parallel tests on the real stderr.
package testlogger

import (
	"strings"
)

// T is the subset of *testing.T that New needs.
type T interface {
	Helper()
	Logf(format string, args ...any)
}

type writer struct {
	t T
}

// New returns an io.Writer that forwards every line written to it to
// t.Logf, trimming the trailing newline writers conventionally include.
func New(t T) *writer {
	return &writer{t: t}
}

func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Helper()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		w.t.Logf("%s", line)
	}
	return len(p), nil
}
