package maincmd

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/oferchen/rsync-sub004/internal/restrict"
	"github.com/oferchen/rsync-sub004/rsyncd"
	"github.com/oferchen/rsync-sub004/internal/rsyncos"
)

// errIsParent is returned by namespace() when the calling process is the
// supervisor half of a privilege-separated daemon launch and should exit
// without serving traffic itself, leaving that to the restricted child.
// This implementation does not fork a child process, so namespace() never
// actually returns errIsParent; the sentinel stays for callers (and future
// privilege-separation work) that check for it.
var errIsParent = errors.New("maincmd: parent process")

// namespace restricts the daemon's filesystem view to exactly the
// directories the configured modules need, then drops root privileges,
// mirroring gokrazy's usual "restrict first, drop privileges second" boot
// sequence for long-running daemons.
func namespace(osenv *rsyncos.Env, modules []rsyncd.Module, listenAddr string) error {
	var roDirs, rwDirs []string
	for _, mod := range modules {
		if mod.Writable {
			rwDirs = append(rwDirs, mod.Path)
		} else {
			roDirs = append(roDirs, mod.Path)
		}
	}
	if osenv.Restrict() {
		if err := restrict.MaybeFileSystem(roDirs, rwDirs); err != nil {
			return err
		}
	}
	return dropPrivileges(osenv)
}

// canUnexpectedlyWriteTo reports whether path's permission bits grant write
// access to users other than its owner, which would let an unprivileged
// rsync client corrupt a module that was configured read-only.
func canUnexpectedlyWriteTo(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Mode().Perm()&0022 != 0 {
		return fmt.Errorf("refusing to use %s as a read-only module: group- or world-writable (mode %v)", path, st.Mode().Perm())
	}
	return nil
}

// systemdListeners returns the listeners passed in via socket activation
// (LISTEN_FDS/LISTEN_PID), or nil if the process was not started that way.
func systemdListeners() ([]net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, err
	}
	return listeners, nil
}
