// Package localcopy drives a transfer where both the source and the
// destination are reachable on the local filesystem, without spawning a
// subprocess or touching the network: a throwaway rsyncd.Server plays the
// sender, rooted at the source, and a receiver.Transfer on the other end of
// an in-memory net.Pipe() writes into the destination. This is the same
// generator/sender/receiver core every other transfer path uses, just
// connected by a pipe instead of a socket or an exec.Cmd's stdio.
package localcopy

import (
	"bufio"
	"fmt"
	"net"

	rsync "github.com/oferchen/rsync-sub004"
	"github.com/oferchen/rsync-sub004/internal/filter"
	"github.com/oferchen/rsync-sub004/internal/log"
	"github.com/oferchen/rsync-sub004/internal/receiver"
	"github.com/oferchen/rsync-sub004/internal/rsyncopts"
	"github.com/oferchen/rsync-sub004/internal/rsyncos"
	"github.com/oferchen/rsync-sub004/internal/rsyncstats"
	"github.com/oferchen/rsync-sub004/internal/rsyncwire"
	"github.com/oferchen/rsync-sub004/internal/sender"
	"github.com/oferchen/rsync-sub004/rsyncd"
)

// Copy transfers src into dest, both of which must be local paths. opts
// carries the parsed command-line flags; its Sender/LocalServer bits are
// ignored here since Copy always plays both roles itself.
func Copy(osenv rsyncos.Std, opts *rsyncopts.Options, src, dest string) (*rsyncstats.TransferStats, error) {
	srv, err := rsyncd.NewServer(nil, rsyncd.WithStderr(osenv.Stderr))
	if err != nil {
		return nil, err
	}

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	serverConn := srv.NewConnection(serverSide, serverSide)

	senderOpts := *opts
	senderOpts.SetSender()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.HandleConn(nil, serverConn, []string{src}, &senderOpts, true)
	}()

	stats, recvErr := receive(osenv, opts, clientSide, dest)

	if sendErr := <-errCh; sendErr != nil {
		if recvErr != nil {
			return nil, fmt.Errorf("local sender: %v (receiver also failed: %v)", sendErr, recvErr)
		}
		return nil, fmt.Errorf("local sender: %w", sendErr)
	}
	if recvErr != nil {
		return nil, recvErr
	}
	return stats, nil
}

// receive mirrors internal/maincmd's clientRun receiver branch, inlined
// here to avoid an import cycle (maincmd's public-facing rsyncclient
// package depends on maincmd, and maincmd depends on this package for its
// source-and-dest-are-both-local case).
func receive(osenv rsyncos.Std, opts *rsyncopts.Options, conn net.Conn, dest string) (*rsyncstats.TransferStats, error) {
	crd := &rsyncwire.CountingReader{R: conn}
	cwr := &rsyncwire.CountingWriter{W: conn}
	c := &rsyncwire.Conn{
		Reader: crd,
		Writer: cwr,
	}

	if err := c.WriteInt32(rsync.ProtocolVersion); err != nil {
		return nil, err
	}
	remoteProtocol, err := c.ReadInt32()
	if err != nil {
		return nil, err
	}
	if opts.Verbose() {
		log.Printf("local copy: remote protocol %d", remoteProtocol)
	}

	seed, err := c.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading seed: %v", err)
	}

	mrd := &rsyncwire.MultiplexReader{Reader: conn}
	rd := bufio.NewReaderSize(mrd, 256*1024)
	c.Reader = rd

	rt := &receiver.Transfer{
		Logger: log.New(osenv.Stderr),
		Opts: &receiver.TransferOpts{
			Verbose: opts.Verbose(),
			DryRun:  opts.DryRun(),

			DeleteMode:        opts.DeleteMode(),
			PreserveGid:       opts.PreserveGid(),
			PreserveUid:       opts.PreserveUid(),
			PreserveLinks:     opts.PreserveLinks(),
			PreservePerms:     opts.PreservePerms(),
			PreserveDevices:   opts.PreserveDevices(),
			PreserveSpecials:  opts.PreserveSpecials(),
			PreserveTimes:     opts.PreserveMTimes(),
			PreserveHardLinks: opts.PreserveHardLinks(),
		},
		Dest:          dest,
		Env:           osenv,
		Conn:          c,
		Seed:          seed,
		DeleteFilters: filter.New(opts.FilterRules()),
	}

	// client always sends the (possibly empty) --filter/--exclude/--include
	// rule list; the server side always receives it (see
	// internal/sender.RecvFilterList).
	if err := sender.SendFilterList(c, opts.FilterRules()); err != nil {
		return nil, err
	}

	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	if opts.Verbose() {
		log.Printf("local copy: received %d names", len(fileList))
	}

	return rt.Do(c, fileList, false)
}
