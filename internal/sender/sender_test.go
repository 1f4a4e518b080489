package sender

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oferchen/rsync-sub004/internal/filter"
	"github.com/oferchen/rsync-sub004/internal/flist"
)

func TestExpandDirectiveRulesDirMerge(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", ".rsync-filter"), []byte("- *.o\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fileList := []flist.Entry{
		{Name: ".", IsDir: true, HlinkIdx: -1},
		{Name: "src", IsDir: true, HlinkIdx: -1},
		{Name: "src/main.o", HlinkIdx: -1},
		{Name: "other.o", HlinkIdx: -1},
	}
	base := []filter.Rule{
		{Kind: filter.KindDirMerge, MergeFile: ".rsync-filter"},
	}

	effective := expandDirectiveRules(root, fileList, base)
	set := filter.New(effective)

	if got := set.Matches("src/main.o", false); got != filter.DecisionExclude {
		t.Errorf("src/main.o: Matches = %v, want Exclude", got)
	}
	if got := set.Matches("other.o", false); got != filter.DecisionNone {
		t.Errorf("other.o: Matches = %v, want None (merge file only applies under src/)", got)
	}
}

func TestExpandDirectiveRulesExcludeIfPresent(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "build"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "build", ".no-sync"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	fileList := []flist.Entry{
		{Name: ".", IsDir: true, HlinkIdx: -1},
		{Name: "build", IsDir: true, HlinkIdx: -1},
		{Name: "build/out.bin", HlinkIdx: -1},
	}
	base := []filter.Rule{
		{Kind: filter.KindExcludeIfPresent, MergeFile: ".no-sync"},
	}

	effective := expandDirectiveRules(root, fileList, base)
	set := filter.New(effective)

	if got := set.Matches("build/out.bin", false); got != filter.DecisionExclude {
		t.Errorf("build/out.bin: Matches = %v, want Exclude", got)
	}
}
