package maincmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/oferchen/rsync-sub004/internal/log"
	"github.com/oferchen/rsync-sub004/internal/rsyncopts"
	"github.com/oferchen/rsync-sub004/internal/rsyncos"
	"github.com/oferchen/rsync-sub004/internal/rsyncstats"
)

const defaultRsyncdPort = 873

// checkForHostspec recognizes the three hostspec forms rsync(1) accepts on
// the command line: rsync://host[:port]/module/path, host::module/path, and
// host:path (remote-shell form, no daemon involved). It returns a non-nil
// err when arg does not look like any of them, matching rsync's
// check_for_hostspec, whose callers treat failure as "this argument is a
// local path".
func checkForHostspec(arg string) (host, path string, port int, err error) {
	if strings.HasPrefix(arg, "rsync://") {
		rest := strings.TrimPrefix(arg, "rsync://")
		if at := strings.IndexByte(rest, '@'); at > -1 {
			rest = rest[at+1:] // drop "user@"; daemon authentication is not implemented
		}
		slash := strings.IndexByte(rest, '/')
		if slash == -1 {
			return "", "", 0, fmt.Errorf("malformed rsync:// URL %q: missing module path", arg)
		}
		host, port, err = splitHostPort(rest[:slash], defaultRsyncdPort)
		if err != nil {
			return "", "", 0, err
		}
		return host, rest[slash+1:], port, nil
	}

	if idx := strings.Index(arg, "::"); idx > -1 {
		host, port, err = splitHostPort(arg[:idx], defaultRsyncdPort)
		if err != nil {
			return "", "", 0, err
		}
		return host, arg[idx+2:], port, nil
	}

	idx := strings.IndexByte(arg, ':')
	if idx <= 0 || strings.HasPrefix(arg, "[") {
		// idx<=0 rules out both "no colon" and a leading colon; idx==1 would
		// also misfire on a Windows drive letter, but this module never runs
		// there. A leading '[' is an IPv6 literal used as a local path, which
		// never happens for a hostspec.
		return "", "", 0, fmt.Errorf("%q is not a hostspec", arg)
	}
	return arg[:idx], arg[idx+1:], 0, nil
}

// splitHostPort separates an optional ":port" suffix from a hostspec's host
// part, understanding bracketed IPv6 literals the way net.SplitHostPort
// does, and falling back to defaultPort when none is given.
func splitHostPort(hostport string, defaultPort int) (string, int, error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end == -1 {
			return "", 0, fmt.Errorf("malformed IPv6 literal %q", hostport)
		}
		host := hostport[1:end]
		rest := hostport[end+1:]
		if strings.HasPrefix(rest, ":") {
			p, err := strconv.Atoi(rest[1:])
			if err != nil {
				return "", 0, fmt.Errorf("malformed port in %q: %v", hostport, err)
			}
			return host, p, nil
		}
		return host, defaultPort, nil
	}
	if idx := strings.LastIndexByte(hostport, ':'); idx > -1 {
		if p, err := strconv.Atoi(hostport[idx+1:]); err == nil {
			return hostport[:idx], p, nil
		}
	}
	return hostport, defaultPort, nil
}

// serverOptions reconstructs the subset of flags the remote-shell transport
// re-execs rsync with on the other end, mirroring rsync/options.c:server_options
// closely enough for the modes this client supports (it does not yet cover
// every flag rsyncopts.Options exposes).
//
// rsync/options.c:server_options
func serverOptions(opts *rsyncopts.Options) []string {
	var args []string

	var shortFlags strings.Builder
	shortFlags.WriteByte('-')
	if opts.Recurse() {
		shortFlags.WriteByte('r')
	}
	if opts.PreserveLinks() {
		shortFlags.WriteByte('l')
	}
	if opts.PreservePerms() {
		shortFlags.WriteByte('p')
	}
	if opts.PreserveMTimes() {
		shortFlags.WriteByte('t')
	}
	if opts.PreserveGid() {
		shortFlags.WriteByte('g')
	}
	if opts.PreserveUid() {
		shortFlags.WriteByte('o')
	}
	if opts.PreserveDevices() || opts.PreserveSpecials() {
		shortFlags.WriteByte('D')
	}
	if opts.PreserveHardLinks() {
		shortFlags.WriteByte('H')
	}
	if opts.AlwaysChecksum() {
		shortFlags.WriteByte('c')
	}
	if opts.IgnoreTimes() {
		shortFlags.WriteByte('I')
	}
	if opts.DryRun() {
		shortFlags.WriteByte('n')
	}
	if opts.WholeFile() {
		shortFlags.WriteByte('W')
	}
	for i := 0; i < opts.VerboseCount(); i++ {
		shortFlags.WriteByte('v')
	}
	if shortFlags.Len() > 1 {
		args = append(args, shortFlags.String())
	}

	if opts.Compress() {
		args = append(args, "-z")
	}
	if opts.DeleteMode() {
		args = append(args, "--delete")
	}
	if opts.Sender() {
		args = append(args, "--sender")
	}
	return args
}

// socketClient dials a daemon directly over TCP (the "rsync://" and "::"
// hostspec forms) and drives the @RSYNCD: text handshake before handing off
// to the binary protocol, mirroring rsync/clientserver.c:start_socket_client.
func socketClient(ctx context.Context, osenv rsyncos.Std, opts *rsyncopts.Options, host, path string, port int, other string) (*rsyncstats.TransferStats, error) {
	if port == 0 {
		port = defaultRsyncdPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing rsync daemon at %s: %v", addr, err)
	}
	defer conn.Close()

	module := path
	if idx := strings.IndexByte(module, '/'); idx > -1 {
		module = module[:idx]
	}

	if err := daemonHandshake(osenv, conn, opts, module); err != nil {
		return nil, err
	}

	return clientRun(osenv, opts, conn, []string{other}, false)
}

// startInbandExchange drives the same @RSYNCD: handshake as socketClient,
// but over a remote shell's stdin/stdout pipe instead of a fresh TCP
// connection, for hostspecs like "host::module/path" combined with -e/RSYNC_RSH.
//
// rsync/clientserver.c:start_inband_exchange
func startInbandExchange(osenv rsyncos.Std, opts *rsyncopts.Options, conn io.ReadWriter, module, path string) (done bool, err error) {
	if err := daemonHandshake(osenv, conn, opts, module); err != nil {
		return false, err
	}
	return false, nil
}

// daemonHandshake performs the textual "@RSYNCD:" greeting/module-selection
// exchange common to both transports, ending with the server's per-module
// argument list already sent and the connection ready for clientRun to take
// over in non-negotiating mode (the greeting already carries the protocol
// version, so no further binary version exchange happens).
func daemonHandshake(osenv rsyncos.Std, conn io.ReadWriter, opts *rsyncopts.Options, module string) error {
	rd := bufio.NewReader(conn)

	serverGreeting, err := rd.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading daemon greeting: %v", err)
	}
	if !strings.HasPrefix(serverGreeting, "@RSYNCD: ") {
		return fmt.Errorf("invalid daemon greeting: got %q", serverGreeting)
	}
	if opts.Verbose() {
		log.Printf("daemon greeting: %q", strings.TrimSpace(serverGreeting))
	}

	fmt.Fprintf(conn, "@RSYNCD: %d\n", rsyncProtocolVersionOf(serverGreeting))

	if module == "" {
		module = "#list"
	}
	fmt.Fprintf(conn, "%s\n", module)

	if module == "#list" {
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				return err
			}
			if strings.HasPrefix(line, "@RSYNCD: EXIT") {
				break
			}
			fmt.Fprint(osenv.Stdout, line)
		}
		return fmt.Errorf("module listing requested, nothing to transfer")
	}

	reply, err := rd.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading module reply: %v", err)
	}
	reply = strings.TrimSpace(reply)
	switch {
	case strings.HasPrefix(reply, "@ERROR"):
		return fmt.Errorf("daemon refused module %q: %s", module, reply)
	case strings.HasPrefix(reply, "@RSYNCD: AUTHREQD"):
		return fmt.Errorf("daemon requires authentication for module %q, which is not yet supported", module)
	case reply != "@RSYNCD: OK":
		return fmt.Errorf("unexpected daemon reply: %q", reply)
	}

	for _, arg := range serverOptions(opts) {
		fmt.Fprintf(conn, "%s\n", arg)
	}
	fmt.Fprint(conn, "\n")

	return nil
}

// rsyncProtocolVersionOf extracts the numeric version from a "@RSYNCD: N[.M]"
// greeting line, falling back to our own protocol version if parsing fails.
func rsyncProtocolVersionOf(greeting string) int {
	greeting = strings.TrimPrefix(greeting, "@RSYNCD: ")
	greeting = strings.TrimSpace(greeting)
	if dot := strings.IndexByte(greeting, '.'); dot > -1 {
		greeting = greeting[:dot]
	}
	v, err := strconv.Atoi(greeting)
	if err != nil {
		return 32
	}
	return v
}
