package rsyncdconf

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadModuleAndGlobal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rsyncd.conf"), `
# comment
; also a comment
motd file = motd.txt
bwlimit = 200

[data]
	comment = test module
	path = /srv/data
	read only = yes
	hosts allow = 10.0.0.0/8 192.168.1.1
	hosts deny = all
`)

	cfg, err := Load(filepath.Join(dir, "rsyncd.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.Global.MotdFile, filepath.Join(dir, "motd.txt"); got != want {
		t.Errorf("MotdFile = %q, want %q", got, want)
	}
	if got, want := cfg.Global.BWLimitKBps, 200; got != want {
		t.Errorf("BWLimitKBps = %d, want %d", got, want)
	}

	mod := cfg.Module("data")
	if mod == nil {
		t.Fatal("module data not found")
	}
	if got, want := mod.Path, "/srv/data"; got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
	if !mod.ReadOnly {
		t.Error("ReadOnly = false, want true")
	}
	if got, want := len(mod.HostsAllow), 2; got != want {
		t.Errorf("len(HostsAllow) = %d, want %d", got, want)
	}
}

func TestRsyncdModulesACL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rsyncd.conf"), `
[data]
	path = /srv/data
	hosts allow = 10.0.0.0/8
	hosts deny = evil.example.com
`)
	cfg, err := Load(filepath.Join(dir, "rsyncd.conf"))
	if err != nil {
		t.Fatal(err)
	}
	modules := cfg.RsyncdModules()
	if len(modules) != 1 {
		t.Fatalf("len(modules) = %d, want 1", len(modules))
	}
	want := []string{"allow 10.0.0.0/8", "deny evil.example.com", "deny all"}
	got := modules[0].ACL
	if len(got) != len(want) {
		t.Fatalf("ACL = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ACL[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDuplicateGlobalDirectiveError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rsyncd.conf"), `
bwlimit = 100
bwlimit = 200
`)
	if _, err := Load(filepath.Join(dir, "rsyncd.conf")); err == nil {
		t.Fatal("expected error for conflicting duplicate global directive, got nil")
	}
}

func TestDuplicateGlobalDirectiveSameValueOK(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rsyncd.conf"), `
bwlimit = 100
bwlimit = 100
`)
	if _, err := Load(filepath.Join(dir, "rsyncd.conf")); err != nil {
		t.Fatalf("unexpected error for idempotent duplicate directive: %v", err)
	}
}

func TestIncludeResolvedRelativeToIncludingFile(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(sub, "modules.conf"), `
[extra]
	path = /srv/extra
`)
	writeFile(t, filepath.Join(dir, "rsyncd.conf"), `
include = sub/modules.conf
`)
	cfg, err := Load(filepath.Join(dir, "rsyncd.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Module("extra") == nil {
		t.Fatal("module extra not found via include")
	}
}

func TestIncludeRecursionDetected(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.conf")
	b := filepath.Join(dir, "b.conf")
	writeFile(t, a, "include = b.conf\n")
	writeFile(t, b, "include = a.conf\n")

	if _, err := Load(a); err == nil {
		t.Fatal("expected recursion error, got nil")
	}
}
