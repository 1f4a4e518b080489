// Package version holds the build-time version string, overridable via
// -ldflags the way the teacher's cmd/gokr-rsync binary is versioned.
package version

// Version is overwritten at build time via:
//
//	go build -ldflags "-X github.com/oferchen/rsync-sub004/internal/version.Version=v1.2.3"
var Version = "dev"

// Read returns the one-line version banner printed by --version, matching
// the format tridge rsync and openrsync both use so scripts that grep for
// "version" keep working.
func Read() string {
	return "rsync  version " + Version + "  protocol version 32"
}
