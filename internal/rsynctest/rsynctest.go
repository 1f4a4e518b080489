// Package rsynctest spins up a throwaway gokr-rsyncd instance (and,
// optionally, an anon-ssh listener in front of it) for use from integration
// tests, plus a handful of fixture helpers (large data files, device nodes)
// that would otherwise be repeated in every test that exercises them.
package rsynctest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/oferchen/rsync-sub004/internal/anonssh"
	"github.com/oferchen/rsync-sub004/internal/maincmd"
	"github.com/oferchen/rsync-sub004/internal/rsyncdconfig"
	"github.com/oferchen/rsync-sub004/internal/rsyncos"
	"github.com/oferchen/rsync-sub004/rsyncd"
)

// AnyRsync locates a system rsync binary to drive as the other side of an
// interop test, skipping the test outright when none is installed.
func AnyRsync(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("rsync")
	if err != nil {
		t.Skip("skipping test: rsync binary not found in $PATH")
	}
	return path
}

// Server is a running test daemon. Port is the TCP port of its first
// configured listener (rsync:// or anon-ssh, whichever was set up),
// formatted as a string for direct use in a "host:port" hostspec.
type Server struct {
	Port string
}

type config struct {
	modules   []rsyncd.Module
	listeners []rsyncdconfig.Listener
}

// Option configures New.
type Option func(*config)

// InteropModule adds a module named "interop" rooted at path, writable, with
// no ACL restrictions, mirroring the module every integration test syncs
// against.
func InteropModule(path string) Option {
	return func(c *config) {
		c.modules = append(c.modules, rsyncd.Module{
			Name:     "interop",
			Path:     path,
			Writable: true,
		})
	}
}

// Listeners overrides the default single rsync:// listener on localhost:0
// with an explicit listener list (e.g. an anon-ssh listener).
func Listeners(ls []rsyncdconfig.Listener) Option {
	return func(c *config) { c.listeners = ls }
}

// New starts a daemon for the duration of t, shutting it down (via
// t.Cleanup) when the test finishes.
func New(t *testing.T, opts ...Option) *Server {
	t.Helper()

	var c config
	for _, opt := range opts {
		opt(&c)
	}
	if len(c.listeners) == 0 {
		c.listeners = []rsyncdconfig.Listener{{Rsyncd: "localhost:0"}}
	}
	listener := c.listeners[0]

	srv, err := rsyncd.NewServer(c.modules, rsyncd.WithStderr(os.Stderr))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result := &Server{}
	osenv := &rsyncos.Env{Stdin: nil, Stdout: os.Stdout, Stderr: os.Stderr, DontRestrict: true}

	switch {
	case listener.AnonSSH != "":
		ln, err := net.Listen("tcp", listener.AnonSSH)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { ln.Close() })

		sshListener, err := anonssh.ListenerFromConfig(osenv, listener)
		if err != nil {
			t.Fatal(err)
		}
		cfg := &rsyncdconfig.Config{Modules: c.modules, Listeners: c.listeners}

		go func() {
			err := anonssh.Serve(ctx, osenv, ln, sshListener, cfg, func(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
				_, err := maincmd.Main(ctx, args, stdin, stdout, stderr, cfg)
				return err
			})
			if err != nil && ctx.Err() == nil {
				t.Logf("rsynctest: anonssh.Serve: %v", err)
			}
		}()

		_, port, err := net.SplitHostPort(ln.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		result.Port = port

	case listener.Rsyncd != "":
		ln, err := net.Listen("tcp", listener.Rsyncd)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { ln.Close() })

		go func() {
			if err := srv.Serve(ctx, ln); err != nil && ctx.Err() == nil {
				t.Logf("rsynctest: Serve: %v", err)
			}
		}()

		_, port, err := net.SplitHostPort(ln.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		result.Port = port

	default:
		t.Fatalf("rsynctest: listener %+v configures neither Rsyncd nor AnonSSH", listener)
	}

	return result
}

// WriteLargeDataFile creates dir/large-data-file, a few megabytes long,
// starting with head, filled with body, and ending with end, sized so a
// change to body alone forces a non-trivial amount of delta transfer.
func WriteLargeDataFile(t *testing.T, dir string, head, body, end []byte) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	const size = 3 * 1024 * 1024
	f, err := os.Create(filepath.Join(dir, "large-data-file"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Write(head); err != nil {
		t.Fatal(err)
	}
	written := len(head)
	buf := bytes.Repeat(body, 4096/maxInt(1, len(body)))
	for written+len(buf)+len(end) < size {
		if _, err := f.Write(buf); err != nil {
			t.Fatal(err)
		}
		written += len(buf)
	}
	if _, err := f.Write(end); err != nil {
		t.Fatal(err)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DataFileMatches verifies that path starts with head, ends with end, and
// consists entirely of repetitions of body in between.
func DataFileMatches(path string, head, body, end []byte) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(b, head) {
		return fmt.Errorf("%s: missing expected head %x", path, head)
	}
	if !bytes.HasSuffix(b, end) {
		return fmt.Errorf("%s: missing expected end %x", path, end)
	}
	middle := b[len(head) : len(b)-len(end)]
	for len(middle) > 0 {
		n := len(body)
		if n > len(middle) {
			n = len(middle)
		}
		if !bytes.Equal(middle[:n], body[:n]) {
			return fmt.Errorf("%s: middle does not consist of repeated %x", path, body)
		}
		middle = middle[n:]
	}
	return nil
}
