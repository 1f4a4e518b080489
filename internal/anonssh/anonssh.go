// Package anonssh serves the rsync daemon protocol over SSH, either
// unauthenticated ("anon ssh", for trusted networks where TCP port 873 is
// inconvenient to expose) or authenticated against a fixed authorized_keys
// file. Either way, the SSH session's exec command becomes the argv the
// daemon's own flag parser sees, exactly as if it had been invoked as
// `ssh host rsync --server --daemon .`.
package anonssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/shlex"
	"github.com/oferchen/rsync-sub004/internal/rsyncdconfig"
	"github.com/oferchen/rsync-sub004/internal/rsyncos"
	"golang.org/x/crypto/ssh"
)

// Listener holds the SSH server configuration for one configured listener:
// its host key and, for authorized_ssh listeners, the accepted client keys.
type Listener struct {
	config *ssh.ServerConfig
}

// ListenerFromConfig builds the SSH server configuration for l. Anon-ssh
// listeners accept any client key; authorized_ssh listeners only accept keys
// listed in AuthorizedKeys.
func ListenerFromConfig(osenv *rsyncos.Env, l rsyncdconfig.Listener) (*Listener, error) {
	signer, err := newEphemeralHostKey()
	if err != nil {
		return nil, fmt.Errorf("anonssh: generating host key: %w", err)
	}

	cfg := &ssh.ServerConfig{}
	if l.AuthorizedSSH.Address != "" {
		keys, err := loadAuthorizedKeys(l.AuthorizedSSH.AuthorizedKeys)
		if err != nil {
			return nil, err
		}
		cfg.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			marshaled := key.Marshal()
			for _, k := range keys {
				if bytes.Equal(k.Marshal(), marshaled) {
					return nil, nil
				}
			}
			return nil, fmt.Errorf("unauthorized key from %s@%s", conn.User(), conn.RemoteAddr())
		}
	} else {
		cfg.NoClientAuth = true
	}
	cfg.AddHostKey(signer)

	return &Listener{config: cfg}, nil
}

func newEphemeralHostKey() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromSigner(priv)
}

func loadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	if path == "" {
		return nil, fmt.Errorf("anonssh: authorized_keys path must not be empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("anonssh: reading authorized_keys: %w", err)
	}
	var keys []ssh.PublicKey
	for len(b) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(b)
		if err != nil {
			break
		}
		keys = append(keys, key)
		b = rest
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("anonssh: no usable keys found in %s", path)
	}
	return keys, nil
}

// Handler is invoked once per SSH "exec" request with the shell-split
// command line as args, and the channel wired up as stdio.
type Handler func(args []string, stdin io.Reader, stdout, stderr io.Writer) error

// Serve accepts connections on ln and, for each one, performs the SSH
// handshake with l's configuration before dispatching the session's exec
// command to handler. It returns when ln.Accept fails or ctx is canceled.
func Serve(ctx context.Context, osenv *rsyncos.Env, ln net.Listener, l *Listener, cfg *rsyncdconfig.Config, handler Handler) error {
	if l == nil {
		return fmt.Errorf("anonssh: Serve called without an SSH listener configuration")
	}
	go func() {
		<-ctx.Done()
		ln.Close() // unblocks Accept
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return err
		}
		go func() {
			if err := serveConn(osenv, conn, l, handler); err != nil {
				osenv.Logf("anonssh: %v", err)
			}
		}()
	}
}

func serveConn(osenv *rsyncos.Env, conn net.Conn, l *Listener, handler Handler) error {
	defer conn.Close()

	sconn, chans, reqs, err := ssh.NewServerConn(conn, l.config)
	if err != nil {
		return fmt.Errorf("ssh handshake with %s: %w", conn.RemoteAddr(), err)
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleSession(osenv, ch, requests, handler)
	}
	return nil
}

type exitStatusMsg struct {
	Status uint32
}

func handleSession(osenv *rsyncos.Env, ch ssh.Channel, requests <-chan *ssh.Request, handler Handler) {
	defer ch.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		args, err := shlex.Split(payload.Command)
		status := uint32(0)
		if err != nil {
			fmt.Fprintf(ch.Stderr(), "parsing command: %v\n", err)
			status = 1
		} else if err := handler(args, ch, ch, ch.Stderr()); err != nil {
			osenv.Logf("anonssh: handler: %v", err)
			status = 1
		}
		ch.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{status}))
		return
	}
}
