// Package sender implements the sender side of a transfer (C8/C10): reading
// a local file tree, exchanging the file list, and replying to the
// receiver's per-file block signatures with a stream of literal/match
// tokens built by internal/rsyncsig's matcher.
//
// Grounded on the teacher's rsyncd.go handleConnSender call shape and
// internal/receiver's generator/receiver split; the previous
// internal/rsyncd prototype this module replaces never finished its sender
// loop (see DESIGN.md).
package sender

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oferchen/rsync-sub004"
	"github.com/oferchen/rsync-sub004/internal/filter"
	"github.com/oferchen/rsync-sub004/internal/flist"
	"github.com/oferchen/rsync-sub004/internal/log"
	"github.com/oferchen/rsync-sub004/internal/rsyncchecksum"
	"github.com/oferchen/rsync-sub004/internal/rsyncopts"
	"github.com/oferchen/rsync-sub004/internal/rsyncsig"
	"github.com/oferchen/rsync-sub004/internal/rsyncstats"
	"github.com/oferchen/rsync-sub004/internal/rsyncwire"
)

// FilterList is the set of include/exclude rules the receiver side sends
// ahead of a delete-mode transfer, read by RecvFilterList.
type FilterList struct {
	Filters []filter.Rule
}

// RecvFilterList reads the (possibly empty) filter rule list the other end
// sends before a delete-aware transfer.
func RecvFilterList(c *rsyncwire.Conn) (*FilterList, error) {
	n, err := c.ReadVarint()
	if err != nil {
		return nil, err
	}
	fl := &FilterList{}
	for i := int32(0); i < n; i++ {
		l, err := c.ReadVarint()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(c.Reader, buf); err != nil {
			return nil, err
		}
		rules, err := filter.ParseRules([]string{string(buf)})
		if err != nil {
			return nil, err
		}
		fl.Filters = append(fl.Filters, rules...)
	}
	return fl, nil
}

// SendFilterList writes rules in the wire format RecvFilterList expects: a
// varint count followed by, per rule, a varint length and the raw filter
// line, rendered back into the textual syntax filter.ParseRules accepts.
func SendFilterList(c *rsyncwire.Conn, rules []filter.Rule) error {
	if err := c.WriteVarint(int32(len(rules))); err != nil {
		return err
	}
	for _, r := range rules {
		line := []byte(renderFilterRule(r))
		if err := c.WriteVarint(int32(len(line))); err != nil {
			return err
		}
		if _, err := c.Writer.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func renderFilterRule(r filter.Rule) string {
	switch r.Kind {
	case filter.KindInclude:
		return "+ " + r.Pattern
	case filter.KindExclude:
		return "- " + r.Pattern
	case filter.KindProtect:
		return "P " + r.Pattern
	case filter.KindRisk:
		return "R " + r.Pattern
	case filter.KindDirMerge:
		return "dir-merge " + r.MergeFile
	case filter.KindExcludeIfPresent:
		return "-x " + r.MergeFile
	default:
		return "- " + r.Pattern
	}
}

// Transfer holds the state of one sender-side run.
type Transfer struct {
	Logger log.Logger
	Opts   *rsyncopts.Options
	Conn   *rsyncwire.Conn
	Seed   int32
}

// Do walks root (module.Path), sends the resulting file list, and then
// answers every signature the other side requests with a token stream,
// finishing with the summary statistics the receiver's report() reads.
//
// rsync/main.c:do_server_sender
func (st *Transfer) Do(crd *rsyncwire.CountingReader, cwr *rsyncwire.CountingWriter, root string, paths []string, exclusions *FilterList) (*rsyncstats.TransferStats, error) {
	var fileList []flist.Entry
	for _, p := range paths {
		entries, err := flist.Walk(filepath.Join(root, p))
		if err != nil {
			return nil, err
		}
		fileList = append(fileList, entries...)
	}

	if exclusions != nil && len(exclusions.Filters) > 0 {
		effective := expandDirectiveRules(root, fileList, exclusions.Filters)
		rules := filter.New(effective)
		filtered := fileList[:0]
		for _, e := range fileList {
			if rules.Matches(e.Name, e.IsDir) != filter.DecisionExclude {
				filtered = append(filtered, e)
			}
		}
		fileList = filtered
	}

	if err := flist.WriteList(st.Conn, &flist.CompressionState{}, fileList); err != nil {
		return nil, err
	}

	for {
		idx, err := st.Conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		if idx == -1 {
			break
		}
		f := fileList[idx]
		if err := st.sendFile(root, f); err != nil {
			return nil, err
		}
	}

	stats := &rsyncstats.TransferStats{
		Read:    crd.Counted,
		Written: cwr.Counted,
	}
	for _, f := range fileList {
		stats.Size += f.Size
	}
	if err := st.Conn.WriteInt64(stats.Read); err != nil {
		return nil, err
	}
	if err := st.Conn.WriteInt64(stats.Written); err != nil {
		return nil, err
	}
	if err := st.Conn.WriteInt64(stats.Size); err != nil {
		return nil, err
	}

	// read final goodbye
	if _, err := st.Conn.ReadInt32(); err != nil && err != io.EOF {
		return nil, err
	}

	return stats, nil
}

// expandDirectiveRules descends the already-walked fileList looking for
// per-directory merge files and exclude-if-present markers named by base's
// KindDirMerge/KindExcludeIfPresent rules, the way rsync's send_file_list
// visits each directory once to pick up its local .rsync-filter (or
// whatever -f "dir-merge FILE" names). Rules read out of a merge file are
// anchored to the directory they were found in so they never leak into
// sibling subtrees.
func expandDirectiveRules(root string, fileList []flist.Entry, base []filter.Rule) []filter.Rule {
	effective := append([]filter.Rule(nil), base...)
	for _, e := range fileList {
		if !e.IsDir {
			continue
		}
		dir := filepath.Join(root, e.Name)
		for _, r := range base {
			switch r.Kind {
			case filter.KindDirMerge:
				data, err := os.ReadFile(filepath.Join(dir, r.MergeFile))
				if err != nil {
					continue
				}
				merged, err := filter.ParseRules(strings.Split(string(data), "\n"))
				if err != nil {
					continue
				}
				effective = append(effective, scopeRules(e.Name, merged)...)
			case filter.KindExcludeIfPresent:
				if _, err := os.Stat(filepath.Join(dir, r.MergeFile)); err == nil {
					effective = append(effective, filter.Rule{
						Kind:     filter.KindExclude,
						Pattern:  scopedPattern(e.Name, "**"),
						Anchored: true,
					})
				}
			}
		}
	}
	return effective
}

// scopeRules anchors rules read out of a dir-merge file to dir, so a
// pattern like "*.o" in src/.rsync-filter only ever matches inside src/.
func scopeRules(dir string, rules []filter.Rule) []filter.Rule {
	if dir == "." {
		return rules
	}
	scoped := make([]filter.Rule, len(rules))
	for i, r := range rules {
		r.Pattern = scopedPattern(dir, strings.TrimPrefix(r.Pattern, "/"))
		r.Anchored = true
		scoped[i] = r
	}
	return scoped
}

func scopedPattern(dir, pattern string) string {
	if dir == "." {
		return pattern
	}
	return dir + "/" + pattern
}

func (st *Transfer) sendFile(root string, f flist.Entry) error {
	const algo = rsyncchecksum.MD5

	var sh rsync.SumHead
	if err := sh.ReadFrom(st.Conn); err != nil {
		return err
	}

	path := filepath.Join(root, f.Name)
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	matcher := newMatcherFromWire(st.Conn, sh, algo)
	return st.transmitTokens(in, f.Size, sh, matcher, algo)
}

func newMatcherFromWire(c *rsyncwire.Conn, sh rsync.SumHead, algo rsyncchecksum.StrongAlgorithm) *rsyncsig.Matcher {
	sig := &rsyncsig.Signature{
		BlockLength:    sh.BlockLength,
		ChecksumLength: sh.ChecksumLength,
	}
	for i := int32(0); i < sh.ChecksumCount; i++ {
		weak, err := c.ReadInt32()
		if err != nil {
			break
		}
		strong := make([]byte, sh.ChecksumLength)
		if _, err := io.ReadFull(c.Reader, strong); err != nil {
			break
		}
		sig.Sums = append(sig.Sums, rsyncsig.BlockSum{Weak: uint32(weak), Strong: strong})
	}
	return rsyncsig.NewMatcher(sig, algo, 0)
}

// transmitTokens scans in for blocks matcher already knows about, emitting
// literal runs as positive-length tokens and basis-file matches as negative
// block-index tokens, the way rsync/sender.c:send_files implements delta
// transmission.
func (st *Transfer) transmitTokens(in *os.File, size int64, sh rsync.SumHead, matcher *rsyncsig.Matcher, algo rsyncchecksum.StrongAlgorithm) error {
	blockLen := sh.BlockLength
	if blockLen <= 0 {
		blockLen = rsyncsig.BlockSize(size, rsync.ProtocolVersion)
	}

	var literal []byte
	flushLiteral := func() error {
		if len(literal) == 0 {
			return nil
		}
		if err := st.Conn.WriteInt32(int32(len(literal))); err != nil {
			return err
		}
		if _, err := st.Conn.Writer.Write(literal); err != nil {
			return err
		}
		literal = literal[:0]
		return nil
	}

	buf := make([]byte, blockLen)
	var offset int64
	for {
		n, err := in.ReadAt(buf, offset)
		if n == 0 && err != nil {
			break
		}
		chunk := buf[:n]
		weak := rsyncchecksum.NewRolling(chunk).Sum32()
		blockIdx := matcher.Find(weak, func() []byte {
			h := rsyncchecksum.NewStrong(algo, st.Seed)
			h.Write(chunk)
			return h.Sum(nil)
		})
		if blockIdx >= 0 {
			if err := flushLiteral(); err != nil {
				return err
			}
			if err := st.Conn.WriteInt32(int32(-(blockIdx + 1))); err != nil {
				return err
			}
		} else {
			literal = append(literal, chunk...)
		}
		offset += int64(n)
		if err == io.EOF || n < len(buf) {
			break
		}
	}
	if err := flushLiteral(); err != nil {
		return err
	}
	if err := st.Conn.WriteInt32(0); err != nil {
		return err
	}

	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h := rsyncchecksum.NewStrong(algo, st.Seed)
	if _, err := io.Copy(h, in); err != nil {
		return err
	}
	_, err := st.Conn.Writer.Write(h.Sum(nil))
	return err
}
