package sparse

import (
	"bytes"
	"os"
	"testing"
)

func TestWriterFlushesTrailingZeroRun(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "sparse")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := NewWriter(f, 4096)
	data := append([]byte("head"), make([]byte, 8192)...)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(data))
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("roundtrip mismatch")
	}
}

func TestWriterAccumulatesZeroRunsAcrossChunks(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "sparse")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := NewWriter(f, 1024)
	zeros := make([]byte, 2048)
	if _, err := w.Write(zeros[:1024]); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(zeros[1024:]); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("tail")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	st, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := st.Size(), int64(2048+4); got != want {
		t.Fatalf("size = %d, want %d", got, want)
	}
}

func TestDefaultThresholdBoundary(t *testing.T) {
	if DefaultThreshold != 32*1024 {
		t.Fatalf("DefaultThreshold = %d, want %d", DefaultThreshold, 32*1024)
	}
}
