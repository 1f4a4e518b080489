package flist

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/oferchen/rsync-sub004/internal/rsyncwire"
)

func TestWriteReadRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: ".", Mode: 0755, IsDir: true, HlinkIdx: -1},
		{Name: "a.txt", Mode: 0644, Size: 10, ModTime: time.Unix(1000, 0), HlinkIdx: -1},
		{Name: "a2.txt", Mode: 0644, Size: 20, ModTime: time.Unix(1000, 0), HlinkIdx: -1},
	}

	var buf bytes.Buffer
	c := &rsyncwire.Conn{Writer: &buf}
	if err := WriteList(c, &CompressionState{}, entries); err != nil {
		t.Fatal(err)
	}

	rc := &rsyncwire.Conn{Reader: &buf}
	got, err := ReadList(rc, &CompressionState{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if diff := cmp.Diff(entries[i].Name, got[i].Name); diff != "" {
			t.Errorf("entry %d name mismatch (-want +got):\n%s", i, diff)
		}
		if got[i].Size != entries[i].Size {
			t.Errorf("entry %d size = %d, want %d", i, got[i].Size, entries[i].Size)
		}
	}
}

func TestWriteReadHardlinkFollowerOmitsMetadata(t *testing.T) {
	entries := []Entry{
		{Name: "leader", Mode: 0644, Size: 10, ModTime: time.Unix(1000, 0), Uid: 1, Gid: 2, HlinkDev: 5, HlinkIno: 100, HlinkIdx: -1},
		{Name: "follower", Mode: 0, Size: 0, HlinkDev: 5, HlinkIno: 100, HlinkIdx: -1},
		{Name: "other", Mode: 0644, Size: 20, ModTime: time.Unix(2000, 0), HlinkIdx: -1},
	}

	var buf bytes.Buffer
	c := &rsyncwire.Conn{Writer: &buf}
	if err := WriteList(c, &CompressionState{}, entries); err != nil {
		t.Fatal(err)
	}

	rc := &rsyncwire.Conn{Reader: &buf}
	got, err := ReadList(rc, &CompressionState{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].HlinkIdx != -1 {
		t.Errorf("leader HlinkIdx = %d, want -1", got[0].HlinkIdx)
	}
	if got[1].HlinkIdx != 0 {
		t.Errorf("follower HlinkIdx = %d, want 0 (leader's index)", got[1].HlinkIdx)
	}
	// The follower's metadata was never sent on the wire; it is copied from
	// the leader on decode instead of being left zero.
	if got[1].Size != 10 || !got[1].ModTime.Equal(time.Unix(1000, 0)) || got[1].Uid != 1 || got[1].Gid != 2 {
		t.Errorf("follower metadata = %+v, want copied from leader", got[1])
	}
	if got[2].HlinkIdx != -1 {
		t.Errorf("unrelated entry HlinkIdx = %d, want -1", got[2].HlinkIdx)
	}
}

func TestHardlinkGroups(t *testing.T) {
	entries := []Entry{
		{Name: "a", HlinkDev: 5, HlinkIno: 100},
		{Name: "b", HlinkDev: 5, HlinkIno: 100},
		{Name: "c", HlinkDev: 5, HlinkIno: 200},
	}
	groups := HardlinkGroups(entries)
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	for _, idxs := range groups {
		if len(idxs) != 2 {
			t.Fatalf("group size = %d, want 2", len(idxs))
		}
	}
}
