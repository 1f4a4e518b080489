package receiver

import (
	"os"
	"path/filepath"

	"github.com/oferchen/rsync-sub004/internal/filter"
	"github.com/oferchen/rsync-sub004/internal/flist"
	"github.com/oferchen/rsync-sub004/internal/log"
	"github.com/oferchen/rsync-sub004/internal/rsyncos"
	"github.com/oferchen/rsync-sub004/internal/rsyncwire"
)

// File is the receiver's view of one file-list entry: the wire fields plus
// the local bookkeeping (hardlink group membership) the generator and
// receiver loops need while reconstructing a tree.
type File = flist.Entry

// TransferOpts mirrors the subset of rsyncopts.Options a receiver run
// needs, copied into plain fields so the receiver package does not need to
// import the command-line parser.
type TransferOpts struct {
	DryRun  bool
	Server  bool
	Verbose bool

	DeleteMode       bool
	PreserveGid      bool
	PreserveUid      bool
	PreserveLinks    bool
	PreservePerms    bool
	PreserveDevices  bool
	PreserveSpecials bool
	PreserveTimes    bool
	PreserveHardLinks bool
}

// Transfer holds the state of one receiver-side transfer: the connection
// multiplexed by the caller, the destination root, and the negotiated
// checksum seed.
type Transfer struct {
	Logger log.Logger
	Opts   *TransferOpts
	Dest   string
	DestRoot *Root
	Env    rsyncos.Std
	Conn   *rsyncwire.Conn
	Seed   int32

	// DeleteFilters, when non-nil, is consulted by deleteFiles before
	// removing an extraneous destination path: a DecisionProtect match
	// keeps the path even though it is absent from the sender's file
	// list. Rules are matched first-match-wins, so a DecisionRisk rule
	// listed before a protect rule exempts the paths it matches from that
	// protection.
	DeleteFilters *filter.Set

	IOErrors int
}

// ReceiveFileList reads the file list the sender/generator side sends at
// the start of a transfer, and wires up rt.DestRoot for subsequent local
// filesystem operations.
func (rt *Transfer) ReceiveFileList() ([]*File, error) {
	if rt.DestRoot == nil {
		root, err := newRoot(rt.Dest)
		if err != nil {
			return nil, err
		}
		rt.DestRoot = root
	}

	entries, err := flist.ReadList(rt.Conn, &flist.CompressionState{})
	if err != nil {
		return nil, err
	}
	fileList := make([]*File, len(entries))
	for i := range entries {
		fileList[i] = &entries[i]
	}
	return fileList, nil
}

// findInFileList reports whether name appears in fileList, used by the
// delete pass to decide whether a local path still has a remote
// counterpart.
func findInFileList(fileList []*File, name string) bool {
	for _, f := range fileList {
		if f.Name == name {
			return true
		}
	}
	return false
}

// setPerms applies f's metadata (each of mode, uid/gid and mtime only when
// its preserve option is set) to the local path its data was just written to.
func (rt *Transfer) setPerms(f *File) error {
	local := filepath.Join(rt.Dest, f.Name)
	if rt.Opts.PreservePerms {
		if err := os.Chmod(local, os.FileMode(f.Mode).Perm()); err != nil {
			return err
		}
	}
	if rt.Opts.PreserveTimes {
		if err := os.Chtimes(local, f.ModTime, f.ModTime); err != nil {
			return err
		}
	}
	if st, err := os.Lstat(local); err == nil {
		if _, err := rt.setUid(f, local, st); err != nil {
			return err
		}
	}
	return nil
}

// Root confines filesystem operations to a destination directory, the way
// os.Root does on newer Go versions; reimplemented here for portability
// since this module targets go1.23.
type Root struct {
	base string
}

func newRoot(base string) (*Root, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &Root{base: abs}, nil
}

func (r *Root) join(name string) (string, error) {
	clean := filepath.Clean("/" + name)
	full := filepath.Join(r.base, clean)
	return full, nil
}

// Open opens name (relative to the root) for reading. A missing file
// returns an *os.PathError satisfying os.IsNotExist, matching os.Open.
func (r *Root) Open(name string) (*os.File, error) {
	full, err := r.join(name)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Lstat stats name (relative to the root) without following symlinks.
func (r *Root) Lstat(name string) (os.FileInfo, error) {
	full, err := r.join(name)
	if err != nil {
		return nil, err
	}
	return os.Lstat(full)
}

// Path returns the real filesystem path of name relative to the root, for
// call sites that still need to shell out to os.* directly (renameio,
// os.Remove, ...).
func (r *Root) Path(name string) (string, error) {
	return r.join(name)
}

func (r *Root) String() string { return r.base }
