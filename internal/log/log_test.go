package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/oferchen/rsync-sub004/internal/version"
)

func TestRenderErrorWithCodeRoleAndSource(t *testing.T) {
	m := NewError(23, "delta-transfer failure").
		WithRole(RoleSender).
		WithSource("internal/sender/sender.go", 42)

	got := string(Render(m))

	if !strings.HasPrefix(got, "rsync error: delta-transfer failure (code 23) at ") {
		t.Fatalf("Render() = %q, want prefix %q", got, "rsync error: delta-transfer failure (code 23) at ")
	}
	if !strings.Contains(got, "[sender="+version.Version+"]") {
		t.Fatalf("Render() = %q, want role trailer [sender=%s]", got, version.Version)
	}
	if !strings.Contains(got, "internal/sender/sender.go:42") {
		t.Fatalf("Render() = %q, want source segment", got)
	}
}

func TestRenderWithoutRoleClearsTrailer(t *testing.T) {
	m := NewError(23, "delta-transfer failure").WithRole(RoleSender).WithoutRole()
	if got := string(Render(m)); strings.Contains(got, "[sender=") {
		t.Fatalf("Render() = %q, want no role trailer", got)
	}
}

func TestRenderWithoutSourceClearsLocation(t *testing.T) {
	m := NewError(23, "delta-transfer failure").WithSource("x.go", 1).WithoutSource()
	if got := string(Render(m)); strings.Contains(got, " at ") {
		t.Fatalf("Render() = %q, want no source segment", got)
	}
}

func TestRenderWithoutCodeClearsSuffix(t *testing.T) {
	m := NewError(23, "delta-transfer failure").WithoutCode()
	if got := string(Render(m)); strings.Contains(got, "(code") {
		t.Fatalf("Render() = %q, want no code segment", got)
	}
}

func TestRenderWarningWithoutRoleOrSource(t *testing.T) {
	m := NewWarning("soft limit reached")
	if got, want := string(Render(m)), "rsync warning: soft limit reached"; got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestRenderWarningWithCode(t *testing.T) {
	m := NewWarning("some files vanished before they could be transferred").WithCode(24)
	got := string(Render(m))
	if !strings.HasPrefix(got, "rsync warning: some files vanished") {
		t.Fatalf("Render() = %q, want warning prefix", got)
	}
	if !strings.Contains(got, "(code 24)") {
		t.Fatalf("Render() = %q, want (code 24)", got)
	}
}

func TestRenderInfoOmitsCodeSuffix(t *testing.T) {
	m := NewInfo("protocol handshake complete").WithSource("x.go", 7)
	got := string(Render(m))
	if !strings.HasPrefix(got, "rsync info: protocol handshake complete at ") {
		t.Fatalf("Render() = %q, want info prefix with source", got)
	}
	if strings.Contains(got, "(code") {
		t.Fatalf("Render() = %q, want no code segment on info", got)
	}
}

func TestRenderLineAppendsNewline(t *testing.T) {
	m := NewWarning("soft limit reached")
	got := string(RenderLine(m))
	want := string(Render(m)) + "\n"
	if got != want {
		t.Fatalf("RenderLine() = %q, want %q", got, want)
	}
}

func TestSegmentsConcatenateToRender(t *testing.T) {
	m := NewError(23, "delta-transfer failure").WithRole(RoleSender).WithSource("x.go", 5)
	var combined []byte
	for _, seg := range Segments(m, true) {
		combined = append(combined, seg...)
	}
	if want := string(RenderLine(m)); string(combined) != want {
		t.Fatalf("concatenated segments = %q, want %q", combined, want)
	}
	if n := len(Segments(m, true)); n <= 1 {
		t.Fatalf("Segments count = %d, want more than one segment", n)
	}
}

func TestWriteToMatchesRender(t *testing.T) {
	m := NewError(-35, "timeout in data send").WithRole(RoleReceiver).WithSource("x.go", 3)

	var buf bytes.Buffer
	n, err := WriteTo(&buf, m, false)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := buf.Bytes(), Render(m); !bytes.Equal(got, want) {
		t.Fatalf("WriteTo() wrote %q, want %q", got, want)
	}
	if int(n) != buf.Len() {
		t.Fatalf("WriteTo() returned n=%d, want %d", n, buf.Len())
	}
}

func TestWriteToAppendsNewlineWhenRequested(t *testing.T) {
	m := NewInfo("protocol handshake complete")
	var buf bytes.Buffer
	if _, err := WriteTo(&buf, m, true); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), string(RenderLine(m)); got != want {
		t.Fatalf("WriteTo() = %q, want %q", got, want)
	}
}
