package rsyncsig

import (
	"os"
	"testing"

	"github.com/oferchen/rsync-sub004/internal/rsyncchecksum"
)

func TestGenerateAndMatch(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "sig")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// 2000 bytes in which no two 100-byte blocks are alike.
	data := make([]byte, 2000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}

	sig, err := Generate(f, int64(len(data)), 100, rsyncchecksum.MD5, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(sig.Sums), 20; got != want {
		t.Fatalf("len(Sums) = %d, want %d", got, want)
	}

	matcher := NewMatcher(sig, rsyncchecksum.MD5, 0)
	block := data[300:400]
	weak := rsyncchecksum.NewRolling(block).Sum32()
	idx := matcher.Find(weak, func() []byte {
		h := rsyncchecksum.NewStrong(rsyncchecksum.MD5, 0)
		h.Write(block)
		return h.Sum(nil)
	})
	if idx != 3 {
		t.Fatalf("Find = %d, want 3", idx)
	}
}

func TestBlockSizeBounds(t *testing.T) {
	if got := BlockSize(0, 32); got != 700 {
		t.Fatalf("BlockSize(0) = %d, want 700", got)
	}
	if got := BlockSize(1<<40, 32); got > 1<<29 {
		t.Fatalf("BlockSize huge file = %d, exceeds max", got)
	}
}
