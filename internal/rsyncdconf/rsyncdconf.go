// Package rsyncdconf parses the classic line-oriented rsyncd.conf format:
// "key = value" directives, "[module]" section headers, "#"/";" comments,
// and "include" directives resolved relative to the including file.
//
// This is the format the reference rsync daemon reads; gokr-rsyncd prefers
// internal/rsyncdconfig's TOML listener file for its own deployment, but
// loads rsyncd.conf files through this package wherever a module map or a
// classic config needs to interoperate with one (see Config.Modules).
package rsyncdconf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oferchen/rsync-sub004/internal/log"
	"github.com/oferchen/rsync-sub004/rsyncd"
)

// Global holds the directives that apply outside of any [module] section.
type Global struct {
	MotdFile      string
	Motd          string
	PidFile       string
	LockFile      string
	ReverseLookup bool
	BWLimitKBps   int
	SecretsFile   string
	IncomingChmod string
	OutgoingChmod string
	RefuseOptions []string
}

// Module holds the directives of one [name] section.
type Module struct {
	Name    string
	Path    string
	Comment string

	AuthUsers   []string
	SecretsFile string
	HostsAllow  []string
	HostsDeny   []string

	ReadOnly      bool
	WriteOnly     bool
	UseChroot     bool
	NumericIDs    bool
	List          bool
	FakeSuper     bool
	MungeSymlinks bool
	UID           string
	GID           string

	Timeout        int
	MaxConnections int
	RefuseOptions  []string
	IncomingChmod  string
	OutgoingChmod  string
	MaxVerbosity   int

	IgnoreErrors      bool
	IgnoreNonreadable bool
	TransferLogging   bool
	LogFormat         string
	DontCompress      []string
	PreXferExec       string
	PostXferExec      string
	TempDir           string
	Charset           string
	ForwardLookup     bool
	StrictModes       bool
}

// Config is the fully-resolved result of loading a config file and all of
// its (recursive) includes.
type Config struct {
	Global  Global
	Modules []*Module
}

// Module looks up a loaded module by name, returning nil if absent.
func (c *Config) Module(name string) *Module {
	for _, m := range c.Modules {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// RsyncdModules converts the loaded modules into the rsyncd.Module shape
// rsyncd.NewServer consumes, translating "hosts allow"/"hosts deny" into
// the ordered allow/deny ACL list rsyncd.Server.checkACL evaluates: allow
// entries are checked first, then deny entries; if any "hosts allow"
// directive was present, everything else is implicitly denied.
func (c *Config) RsyncdModules() []rsyncd.Module {
	out := make([]rsyncd.Module, 0, len(c.Modules))
	for _, m := range c.Modules {
		var acl []string
		for _, host := range m.HostsAllow {
			acl = append(acl, "allow "+host)
		}
		for _, host := range m.HostsDeny {
			acl = append(acl, "deny "+host)
		}
		if len(m.HostsAllow) > 0 {
			acl = append(acl, "deny all")
		}
		out = append(out, rsyncd.Module{
			Name:     m.Name,
			Path:     m.Path,
			ACL:      acl,
			Writable: !m.ReadOnly,
		})
	}
	return out
}

// Load parses path and every file it (recursively) includes.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	origins := make(map[string]string)
	open := make(map[string]bool)
	if err := parseFile(cfg, path, origins, open); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFile(cfg *Config, path string, origins map[string]string, open map[string]bool) error {
	canon, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("rsyncdconf: resolving %s: %w", path, err)
	}
	if real, err := filepath.EvalSymlinks(canon); err == nil {
		canon = real
	}
	if open[canon] {
		return fmt.Errorf("rsyncdconf: %s: recursive include", path)
	}
	open[canon] = true
	defer delete(open, canon)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rsyncdconf: %w", err)
	}
	defer f.Close()

	dir := filepath.Dir(canon)
	var cur *Module
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return fmt.Errorf("%s:%d: empty module name", path, lineNo)
			}
			cur = &Module{Name: name, List: true, TransferLogging: false}
			cfg.Modules = append(cfg.Modules, cur)
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return fmt.Errorf("%s:%d: malformed directive (missing '='): %q", path, lineNo, line)
		}
		key := strings.ToLower(strings.TrimSpace(line[:eq]))
		value := strings.TrimSpace(line[eq+1:])

		if key == "include" {
			incPath := resolvePath(dir, value)
			if err := parseFile(cfg, incPath, origins, open); err != nil {
				return err
			}
			continue
		}

		if cur == nil {
			if err := applyGlobal(&cfg.Global, key, value, dir, origins, path, lineNo); err != nil {
				return err
			}
			continue
		}
		if err := applyModule(cur, key, value, dir); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("rsyncdconf: reading %s: %w", path, err)
	}
	return nil
}

func resolvePath(configDir, value string) string {
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(configDir, value)
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}

func splitList(value string) []string {
	return strings.Fields(value)
}

// applyGlobal applies one global directive, enforcing that a duplicate
// global directive is an error unless its value is unchanged (so an
// idempotent re-include of the same file, or the same directive repeated
// verbatim across a chain of includes, is not an error).
func applyGlobal(g *Global, key, value, dir string, origins map[string]string, path string, lineNo int) error {
	if prev, ok := origins[key]; ok && prev != value {
		return fmt.Errorf("%s:%d: duplicate global directive %q (previously %q, now %q)", path, lineNo, key, prev, value)
	}
	origins[key] = value

	switch key {
	case "motd file":
		g.MotdFile = resolvePath(dir, value)
	case "motd":
		g.Motd = value
	case "pid file":
		g.PidFile = resolvePath(dir, value)
	case "lock file":
		g.LockFile = resolvePath(dir, value)
	case "reverse lookup":
		g.ReverseLookup = parseBool(value)
	case "bwlimit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s:%d: invalid bwlimit %q: %v", path, lineNo, value, err)
		}
		g.BWLimitKBps = n
	case "secrets file":
		g.SecretsFile = resolvePath(dir, value)
	case "incoming chmod":
		g.IncomingChmod = value
	case "outgoing chmod":
		g.OutgoingChmod = value
	case "refuse options":
		g.RefuseOptions = splitList(value)
	default:
		log.Printf("rsyncdconf: %s:%d: unknown global directive %q, ignoring", path, lineNo, key)
	}
	return nil
}

func applyModule(m *Module, key, value, dir string) error {
	switch key {
	case "path":
		m.Path = resolvePath(dir, value)
	case "comment":
		m.Comment = value
	case "auth users":
		m.AuthUsers = splitList(strings.ReplaceAll(value, ",", " "))
	case "secrets file":
		m.SecretsFile = resolvePath(dir, value)
	case "hosts allow":
		m.HostsAllow = splitList(value)
	case "hosts deny":
		m.HostsDeny = splitList(value)
	case "read only":
		m.ReadOnly = parseBool(value)
	case "write only":
		m.WriteOnly = parseBool(value)
	case "use chroot":
		m.UseChroot = parseBool(value)
	case "numeric ids":
		m.NumericIDs = parseBool(value)
	case "list":
		m.List = parseBool(value)
	case "fake super":
		m.FakeSuper = parseBool(value)
	case "munge symlinks":
		m.MungeSymlinks = parseBool(value)
	case "uid":
		m.UID = value
	case "gid":
		m.GID = value
	case "timeout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("module %s: invalid timeout %q: %v", m.Name, value, err)
		}
		m.Timeout = n
	case "max connections":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("module %s: invalid max connections %q: %v", m.Name, value, err)
		}
		m.MaxConnections = n
	case "refuse options":
		m.RefuseOptions = splitList(value)
	case "incoming chmod":
		m.IncomingChmod = value
	case "outgoing chmod":
		m.OutgoingChmod = value
	case "max verbosity":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("module %s: invalid max verbosity %q: %v", m.Name, value, err)
		}
		m.MaxVerbosity = n
	case "ignore errors":
		m.IgnoreErrors = parseBool(value)
	case "ignore nonreadable":
		m.IgnoreNonreadable = parseBool(value)
	case "transfer logging":
		m.TransferLogging = parseBool(value)
	case "log format":
		m.LogFormat = value
	case "dont compress":
		m.DontCompress = splitList(value)
	case "pre-xfer exec":
		m.PreXferExec = value
	case "post-xfer exec":
		m.PostXferExec = value
	case "temp dir":
		m.TempDir = resolvePath(dir, value)
	case "charset":
		m.Charset = value
	case "forward lookup":
		m.ForwardLookup = parseBool(value)
	case "strict modes":
		m.StrictModes = parseBool(value)
	default:
		log.Printf("rsyncdconf: module %s: unknown directive %q, ignoring", m.Name, key)
	}
	return nil
}
