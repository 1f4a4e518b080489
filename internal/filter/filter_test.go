package filter

import "testing"

func TestMatchesUnanchoredBasename(t *testing.T) {
	rules, err := ParseRules([]string{"- *.o"})
	if err != nil {
		t.Fatal(err)
	}
	s := New(rules)
	if got := s.Matches("src/foo.o", false); got != DecisionExclude {
		t.Fatalf("Matches = %v, want Exclude", got)
	}
	if got := s.Matches("src/foo.c", false); got != DecisionNone {
		t.Fatalf("Matches = %v, want None", got)
	}
}

func TestMatchesDoubleStarCrossesSlash(t *testing.T) {
	rules, err := ParseRules([]string{"- cache/**"})
	if err != nil {
		t.Fatal(err)
	}
	s := New(rules)
	if got := s.Matches("cache/a/b/c.tmp", false); got != DecisionExclude {
		t.Fatalf("Matches = %v, want Exclude", got)
	}
}

func TestFirstMatchWins(t *testing.T) {
	rules, err := ParseRules([]string{"+ important.log", "- *.log"})
	if err != nil {
		t.Fatal(err)
	}
	s := New(rules)
	if got := s.Matches("important.log", false); got != DecisionInclude {
		t.Fatalf("Matches = %v, want Include", got)
	}
	if got := s.Matches("debug.log", false); got != DecisionExclude {
		t.Fatalf("Matches = %v, want Exclude", got)
	}
}

func TestAnchoredPattern(t *testing.T) {
	rules, err := ParseRules([]string{"- /build"})
	if err != nil {
		t.Fatal(err)
	}
	s := New(rules)
	if got := s.Matches("build", true); got != DecisionExclude {
		t.Fatalf("Matches = %v, want Exclude", got)
	}
	if got := s.Matches("sub/build", true); got != DecisionNone {
		t.Fatalf("Matches = %v, want None (anchored must not match nested dirs)", got)
	}
}
