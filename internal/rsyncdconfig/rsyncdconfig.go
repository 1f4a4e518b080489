// Package rsyncdconfig parses the TOML configuration file gokr-rsyncd reads
// its module map and listener configuration from, the daemon-side analogue
// of rsyncd.conf for deployments that prefer a single structured file over
// flags.
package rsyncdconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/oferchen/rsync-sub004/internal/rsyncdconf"
	"github.com/oferchen/rsync-sub004/rsyncd"
)

// AuthorizedSSH configures a listener that accepts SSH connections
// authenticated against a fixed authorized_keys file, as opposed to the
// anon-ssh listener, which accepts any client key.
type AuthorizedSSH struct {
	Address        string `toml:"address"`
	AuthorizedKeys string `toml:"authorized_keys"`
}

// Listener configures exactly one of three transports for incoming
// connections: a plain rsync:// daemon socket, an unauthenticated SSH
// tunnel, or an authenticated SSH tunnel.
type Listener struct {
	Rsyncd        string        `toml:"rsyncd"`
	AnonSSH       string        `toml:"anonssh"`
	AuthorizedSSH AuthorizedSSH `toml:"authorized_ssh"`
}

// Config is the top-level shape of a gokr-rsyncd.toml file.
type Config struct {
	Listeners []Listener      `toml:"listener"`
	Modules   []rsyncd.Module `toml:"module"`

	// RsyncdConf, when set, names a classic rsyncd.conf file (see
	// internal/rsyncdconf) whose modules are appended to Modules after
	// loading, letting a deployment migrating off the reference daemon keep
	// its existing module definitions instead of transcribing them to TOML.
	RsyncdConf string `toml:"rsyncd_conf"`

	// DontNamespace skips the restrict-then-drop-privileges bootstrap
	// sequence, which only makes sense for authorized_ssh listeners running
	// already-sandboxed (e.g. inside a container per connection).
	DontNamespace bool `toml:"dont_namespace"`
}

// ResolveModules returns Modules with the modules of RsyncdConf (if set)
// appended.
func (c *Config) ResolveModules() ([]rsyncd.Module, error) {
	if c.RsyncdConf == "" {
		return c.Modules, nil
	}
	classic, err := rsyncdconf.Load(c.RsyncdConf)
	if err != nil {
		return nil, fmt.Errorf("rsyncdconfig: loading rsyncd_conf %s: %w", c.RsyncdConf, err)
	}
	modules := append([]rsyncd.Module{}, c.Modules...)
	modules = append(modules, classic.RsyncdModules()...)
	return modules, nil
}

// defaultConfigPaths lists where FromDefaultFiles looks, in order, the way
// gokrazy daemons conventionally search /etc before falling back to a path
// relative to the current working directory.
var defaultConfigPaths = []string{
	"/etc/gokr-rsyncd.toml",
	"gokr-rsyncd.toml",
}

// FromFile decodes the TOML configuration at path.
func FromFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("rsyncdconfig: decoding %s: %w", path, err)
	}
	return &cfg, nil
}

// FromDefaultFiles tries each of defaultConfigPaths in turn, returning the
// first one found along with its path. The returned error is the stat error
// of the last path tried when none exist, so callers can os.IsNotExist() it.
func FromDefaultFiles() (*Config, string, error) {
	var lastErr error
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err != nil {
			lastErr = err
			continue
		}
		cfg, err := FromFile(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}
	return nil, "", lastErr
}
