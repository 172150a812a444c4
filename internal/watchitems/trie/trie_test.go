package trie

import "testing"

func TestLookup_LongestPrefixWins(t *testing.T) {
	tr := New()
	tr.Insert("/usr", true, "usr-prefix")
	tr.Insert("/usr/local/bin", true, "usr-local-bin-prefix")
	tr.Insert("/usr/local/bin/exact", false, "exact-literal")

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"/usr/share/doc", "usr-prefix", true},
		{"/usr/local/bin/foo", "usr-local-bin-prefix", true},
		{"/usr/local/bin/exact", "exact-literal", true},
		{"/usr/local/bin/exact/deeper", "usr-local-bin-prefix", true},
		{"/etc/passwd", nil, false},
	}

	for _, tt := range tests {
		got, ok := tr.Lookup(tt.path)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("Lookup(%q) = (%v, %v), want (%v, %v)", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLookup_LiteralDoesNotMatchChildren(t *testing.T) {
	tr := New()
	tr.Insert("/opt/app", false, "literal")

	if _, ok := tr.Lookup("/opt/app/sub"); ok {
		t.Error("literal entry should not match a descendant path")
	}
	if v, ok := tr.Lookup("/opt/app"); !ok || v != "literal" {
		t.Errorf("exact literal match failed: got (%v, %v)", v, ok)
	}
}

func TestRemove(t *testing.T) {
	tr := New()
	tr.Insert("/a/b", false, 1)
	tr.Remove("/a/b")
	if _, ok := tr.Lookup("/a/b"); ok {
		t.Error("expected removed entry to be absent")
	}
}

func TestPaths(t *testing.T) {
	tr := New()
	tr.Insert("/a", true, nil)
	tr.Insert("/a/b", false, nil)
	got := tr.Paths()
	if len(got) != 2 {
		t.Fatalf("Paths() returned %d entries, want 2: %v", len(got), got)
	}
}
