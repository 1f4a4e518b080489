// Package rsyncclient implements the client (sender or receiver) half of the
// rsync wire protocol over an already-established connection, for callers
// that have their own way of obtaining that connection (an exec.Cmd's
// stdin/stdout pipes, a net.Conn dialed to a daemon, an in-process
// io.Pipe() wired to a local rsyncd.Server) and just want to speak rsync
// over it.
//
// This package is a thin wrapper around internal/maincmd's ClientRun, which
// negotiates the protocol version and then runs the sender or receiver
// transfer loop; cmd/gokr-rsync uses internal/maincmd directly, which also
// handles hostspec parsing, daemon handshakes and ssh/RSYNC_RSH invocation.
package rsyncclient

import (
	"context"
	"io"
	"os"

	"github.com/oferchen/rsync-sub004/internal/maincmd"
	"github.com/oferchen/rsync-sub004/internal/rsyncopts"
	"github.com/oferchen/rsync-sub004/internal/rsyncos"
	"github.com/oferchen/rsync-sub004/internal/rsyncstats"
)

// Client is the parsed, ready-to-run form of an rsync command line. Use New
// to construct one.
type Client struct {
	opts  *rsyncopts.Options
	osenv rsyncos.Std
}

// Option configures a Client beyond what its command-line arguments specify.
type Option func(*Client)

// WithSender forces the client into sender mode (the remote end will
// receive), overriding whatever New's hostspec-free argument list would
// otherwise have inferred. Callers that construct the connection themselves
// (rather than letting Run dial one) know which direction the transfer goes
// and must say so explicitly.
func WithSender() Option {
	return func(c *Client) { c.opts.SetSender() }
}

// WithStderr redirects diagnostic and verbose-mode output away from
// os.Stderr, e.g. to a test's t.Logf-backed writer.
func WithStderr(w io.Writer) Option {
	return func(c *Client) { c.osenv.Stderr = w }
}

// New parses args (an rsync command line without the argv[0] program name,
// e.g. {"-av"}) and returns a Client ready to Run against a connection the
// caller supplies.
func New(args []string, opts ...Option) (*Client, error) {
	pc, err := rsyncopts.ParseArguments(&rsyncos.Env{}, args)
	if err != nil {
		return nil, err
	}
	c := &Client{
		opts:  pc.Options,
		osenv: rsyncos.Std{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run speaks the rsync protocol over rw, negotiating the protocol version
// and then transferring paths: as a sender (if the Client is in sender
// mode, see WithSender) it sends the single path in paths to the remote
// receiver; otherwise it receives into the single destination path in
// paths from the remote sender.
//
// ctx is accepted for forward compatibility (cancellation is not yet wired
// into the underlying transfer loop) and is otherwise unused.
func (c *Client) Run(ctx context.Context, rw io.ReadWriter, paths []string) error {
	const negotiate = true
	_, err := maincmd.ClientRun(c.osenv, c.opts, rw, paths, negotiate)
	return err
}

// RunStats is like Run but also returns the resulting transfer statistics.
func (c *Client) RunStats(ctx context.Context, rw io.ReadWriter, paths []string) (*rsyncstats.TransferStats, error) {
	const negotiate = true
	return maincmd.ClientRun(c.osenv, c.opts, rw, paths, negotiate)
}
