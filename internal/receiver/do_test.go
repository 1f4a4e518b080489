package receiver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oferchen/rsync-sub004/internal/filter"
	"github.com/oferchen/rsync-sub004/internal/log"
)

func TestDeleteFilesRespectsProtect(t *testing.T) {
	dest := t.TempDir()
	for _, name := range []string{"keep.txt", "scratch.log"} {
		if err := os.WriteFile(filepath.Join(dest, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	rules, err := filter.ParseRules([]string{"P scratch.log"})
	if err != nil {
		t.Fatal(err)
	}

	rt := &Transfer{
		Logger:        log.New(os.Stderr),
		Opts:          &TransferOpts{},
		Dest:          dest,
		DeleteFilters: filter.New(rules),
	}

	// Sender's file list no longer mentions either file; both would
	// normally be deleted, but scratch.log is protected.
	fileList := []*File{{Name: "."}}
	if err := rt.deleteFiles(fileList); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dest, "scratch.log")); err != nil {
		t.Errorf("protected file was removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "keep.txt")); !os.IsNotExist(err) {
		t.Errorf("unprotected file still exists: %v", err)
	}
}
