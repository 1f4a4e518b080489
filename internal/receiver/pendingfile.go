package receiver

import (
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// pendingFile stages a file's new contents in a sibling temp file so a
// concurrent reader never observes a half-written result; Close replaces
// the destination atomically via rename(2).
type pendingFile struct {
	t *renameio.PendingFile
}

func newPendingFile(dest string) (*pendingFile, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, err
	}
	t, err := renameio.TempFile("", dest)
	if err != nil {
		return nil, err
	}
	return &pendingFile{t: t}, nil
}

func (p *pendingFile) Write(b []byte) (int, error) { return p.t.Write(b) }

func (p *pendingFile) CloseAtomicallyReplace() error { return p.t.CloseAtomicallyReplace() }

func (p *pendingFile) Cleanup() error { return p.t.Cleanup() }
